package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forgelabs/buildworker/pkg/queuemodel"
)

// JobStore is QueueRuntime's durable backing store: a
// multi-queue job table claimed with FOR UPDATE SKIP LOCKED.
type JobStore struct{ c *Client }

func (c *Client) Jobs() *JobStore { return &JobStore{c: c} }

// Enqueue inserts a job keyed by its caller-supplied id. A conflicting id is
// a no-op — idempotent enqueue. inserted reports whether this call
// won (false means a prior enqueue already holds the id).
func (s *JobStore) Enqueue(ctx context.Context, queue, jobID, name string, payload any, runAt time.Time, maxAttempts int) (inserted bool, err error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal job payload: %w", err)
	}
	res, err := s.c.db.ExecContext(ctx, `
		INSERT INTO jobs (id, queue, name, payload, run_at, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		jobID, queue, name, data, runAt, maxAttempts)
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	return n > 0, nil
}

// Claim atomically claims the oldest due, waiting job on a queue for
// workerID, or returns queuemodel.ErrNoJobsAvailable /
// queuemodel.ErrQueuePaused.
func (s *JobStore) Claim(ctx context.Context, queue, workerID string) (*queuemodel.Job, error) {
	paused, reason, err := s.IsPaused(ctx, queue)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, fmt.Errorf("%w: %s", queuemodel.ErrQueuePaused, reason)
	}

	tx, err := s.c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row jobRow
	err = tx.QueryRowContext(ctx, `
		SELECT id, queue, name, payload, status, attempt, max_attempts, run_at, locked_by, locked_at, last_error, created_at, updated_at
		FROM jobs
		WHERE queue = $1 AND status = 'waiting' AND run_at <= now()
		ORDER BY run_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, queue).Scan(
		&row.ID, &row.Queue, &row.Name, &row.Payload, &row.Status, &row.Attempt, &row.MaxAttempts,
		&row.RunAt, &row.LockedBy, &row.LockedAt, &row.LastError, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queuemodel.ErrNoJobsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'active', attempt = attempt + 1, locked_by = $2, locked_at = $3, updated_at = $3
		WHERE id = $1`, row.ID, workerID, now)
	if err != nil {
		return nil, fmt.Errorf("mark job active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job := row.toModel()
	job.Status = queuemodel.StatusActive
	job.Attempt++
	return job, nil
}

// Complete marks a job completed.
func (s *JobStore) Complete(ctx context.Context, id string) error {
	_, err := s.c.db.ExecContext(ctx, `UPDATE jobs SET status = 'completed', updated_at = now() WHERE id = $1`, id)
	return err
}

// RetryLater re-enters a job into "waiting" at runAt after a retryable
// failure — the active → failed(retrying) → waiting transition.
func (s *JobStore) RetryLater(ctx context.Context, id, errMsg string, runAt time.Time) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'waiting', run_at = $2, last_error = $3, locked_by = NULL, locked_at = NULL, updated_at = now()
		WHERE id = $1`, id, runAt, errMsg)
	return err
}

// FailFinal marks a job as terminally failed (attempt cap exhausted).
func (s *JobStore) FailFinal(ctx context.Context, id, errMsg string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed_final', last_error = $2, updated_at = now() WHERE id = $1`, id, errMsg)
	return err
}

// Unrecoverable marks a job unrecoverable — the handler signalled retries
// are inappropriate; QueueRuntime honors this and stops retrying.
func (s *JobStore) Unrecoverable(ctx context.Context, id, errMsg string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'unrecoverable', last_error = $2, updated_at = now() WHERE id = $1`, id, errMsg)
	return err
}

// Heartbeat refreshes locked_at for an in-flight job so orphan detection
// does not reclaim live work.
func (s *JobStore) Heartbeat(ctx context.Context, id string) error {
	_, err := s.c.db.ExecContext(ctx, `UPDATE jobs SET locked_at = now() WHERE id = $1 AND status = 'active'`, id)
	return err
}

// ReclaimOrphans requeues active jobs whose lock has gone stale beyond
// threshold. Jobs that have exhausted max_attempts are failed instead of
// requeued. Returns the number of jobs touched.
func (s *JobStore) ReclaimOrphans(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)

	res, err := s.c.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed_final', last_error = 'orphaned: attempt cap exhausted', locked_by = NULL, locked_at = NULL, updated_at = now()
		WHERE status = 'active' AND locked_at < $1 AND attempt >= max_attempts`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail exhausted orphans: %w", err)
	}
	failedN, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	res, err = s.c.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'waiting', locked_by = NULL, locked_at = NULL, updated_at = now()
		WHERE status = 'active' AND locked_at < $1 AND attempt < max_attempts`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue orphans: %w", err)
	}
	requeuedN, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(failedN + requeuedN), nil
}

// Depth counts waiting jobs in a queue.
func (s *JobStore) Depth(ctx context.Context, queue string) (int, error) {
	var n int
	err := s.c.db.GetContext(ctx, &n, `SELECT count(*) FROM jobs WHERE queue = $1 AND status = 'waiting'`, queue)
	return n, err
}

// ActiveCount counts active jobs in a queue, across all pods — the basis of
// QueueRuntime's global-capacity check.
func (s *JobStore) ActiveCount(ctx context.Context, queue string) (int, error) {
	var n int
	err := s.c.db.GetContext(ctx, &n, `SELECT count(*) FROM jobs WHERE queue = $1 AND status = 'active'`, queue)
	return n, err
}

// IsPaused reports whether a queue is currently paused, and why.
func (s *JobStore) IsPaused(ctx context.Context, queue string) (bool, string, error) {
	var row struct {
		Paused bool `db:"paused"`
		Reason string `db:"reason"`
	}
	err := s.c.db.GetContext(ctx, &row, `SELECT paused, reason FROM queue_state WHERE queue = $1`, queue)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("check queue paused: %w", err)
	}
	return row.Paused, row.Reason, nil
}

// Pause pauses the one named queue (QueueRuntime.Pause expands "" to every
// registered queue before calling it). A paused queue still
// accepts enqueues but Claim refuses to dispatch work from it.
func (s *JobStore) Pause(ctx context.Context, queue, reason string) error {
	_, err := s.c.db.ExecContext(ctx, `
		INSERT INTO queue_state (queue, paused, reason) VALUES ($1, true, $2)
		ON CONFLICT (queue) DO UPDATE SET paused = true, reason = $2`, queue, reason)
	return err
}

// Resume clears a queue's paused state.
func (s *JobStore) Resume(ctx context.Context, queue string) error {
	_, err := s.c.db.ExecContext(ctx, `
		INSERT INTO queue_state (queue, paused, reason) VALUES ($1, false, '')
		ON CONFLICT (queue) DO UPDATE SET paused = false, reason = ''`, queue)
	return err
}

// UpsertRepeatable registers a cron-scheduled job definition with a stable
// (queue, name) identity, so a process restart does not multiply the
// schedule.
func (s *JobStore) UpsertRepeatable(ctx context.Context, queue, name, cronExpr string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal repeatable payload: %w", err)
	}
	_, err = s.c.db.ExecContext(ctx, `
		INSERT INTO repeatable_jobs (queue, name, cron_expr, payload) VALUES ($1, $2, $3, $4)
		ON CONFLICT (queue, name) DO UPDATE SET cron_expr = $3, payload = $4`,
		queue, name, cronExpr, data)
	return err
}

// ListRepeatable returns every registered repeatable job, for the scheduler
// to load at startup.
func (s *JobStore) ListRepeatable(ctx context.Context) ([]queuemodel.RepeatableJob, error) {
	rows, err := s.c.db.QueryxContext(ctx, `SELECT queue, name, cron_expr, payload FROM repeatable_jobs`)
	if err != nil {
		return nil, fmt.Errorf("list repeatable jobs: %w", err)
	}
	defer rows.Close()

	var out []queuemodel.RepeatableJob
	for rows.Next() {
		var r struct {
			Queue string `db:"queue"`
			Name string `db:"name"`
			CronExpr string `db:"cron_expr"`
			Payload []byte `db:"payload"`
		}
		if err := rows.StructScan(&r); err != nil {
			return nil, err
		}
		var payload map[string]any
		if len(r.Payload) > 0 {
			if err := json.Unmarshal(r.Payload, &payload); err != nil {
				return nil, err
			}
		}
		out = append(out, queuemodel.RepeatableJob{
			Queue: r.Queue, Name: r.Name, CronExpr: r.CronExpr, Payload: payload,
		})
	}
	return out, rows.Err()
}

type jobRow struct {
	ID string
	Queue string
	Name string
	Payload []byte
	Status string
	Attempt int
	MaxAttempts int
	RunAt time.Time
	LockedBy sql.NullString
	LockedAt sql.NullTime
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r jobRow) toModel() *queuemodel.Job {
	var payload map[string]any
	if len(r.Payload) > 0 {
		_ = json.Unmarshal(r.Payload, &payload)
	}
	return &queuemodel.Job{
		ID: r.ID,
		Queue: r.Queue,
		Name: r.Name,
		Payload: payload,
		Status: queuemodel.Status(r.Status),
		Attempt: r.Attempt,
		MaxAttempts: r.MaxAttempts,
		RunAt: r.RunAt,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
