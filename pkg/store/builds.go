package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/models"
)

type buildRow struct {
	ID string `db:"id"`
	ProjectID string `db:"project_id"`
	Status string `db:"status"`
	Attempt int `db:"attempt"`
	SessionID sql.NullString `db:"session_id"`
	LastError string `db:"last_error"`
	StartedAt time.Time `db:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
}

func (r buildRow) toModel() *models.Build {
	b := &models.Build{
		ID: r.ID,
		ProjectID: r.ProjectID,
		Status: models.BuildStatus(r.Status),
		Attempt: r.Attempt,
		LastError: r.LastError,
		StartedAt: r.StartedAt,
	}
	if r.SessionID.Valid {
		b.SessionID = &r.SessionID.String
	}
	if r.CompletedAt.Valid {
		b.CompletedAt = &r.CompletedAt.Time
	}
	return b
}

// BuildStore manages the Build row: attempt >= 1, a Build row exists
// before any AgentSession may reference it.
type BuildStore struct{ c *Client }

func (c *Client) Builds() *BuildStore { return &BuildStore{c: c} }

// Create inserts a new Build with attempt=1 and status=started.
func (s *BuildStore) Create(ctx context.Context, id, projectID string) error {
	_, err := s.c.db.ExecContext(ctx, `
		INSERT INTO builds (id, project_id, status, attempt) VALUES ($1, $2, 'started', 1)`,
		id, projectID)
	if err != nil {
		return fmt.Errorf("create build: %w", err)
	}
	return nil
}

// CreateTx is Create scoped to an in-flight transaction — used by
// BuildInitiator to make the candidate Build row's existence atomic with the
// BuildOperation insert that decides whether it's kept or rolled back.
func (s *BuildStore) CreateTx(ctx context.Context, tx *Tx, id, projectID string) error {
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO builds (id, project_id, status, attempt) VALUES ($1, $2, 'started', 1)`,
		id, projectID)
	if err != nil {
		return fmt.Errorf("create build: %w", err)
	}
	return nil
}

// Get fetches a build by id.
func (s *BuildStore) Get(ctx context.Context, id string) (*models.Build, error) {
	var row buildRow
	err := s.c.db.GetContext(ctx, &row, `SELECT * FROM builds WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindProjectNotFound, "build not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("get build: %w", err)
	}
	return row.toModel(), nil
}

// IncrementAttempt bumps the monotonic attempt counter ahead of a retry.
func (s *BuildStore) IncrementAttempt(ctx context.Context, id string) (int, error) {
	var attempt int
	err := s.c.db.GetContext(ctx, &attempt, `
		UPDATE builds SET attempt = attempt + 1 WHERE id = $1 RETURNING attempt`, id)
	if err != nil {
		return 0, fmt.Errorf("increment build attempt: %w", err)
	}
	return attempt, nil
}

// SetSessionID patches the agent-assigned session id learned from the
// agent's first stdout record onto the Build.
func (s *BuildStore) SetSessionID(ctx context.Context, id, sessionID string) error {
	_, err := s.c.db.ExecContext(ctx, `UPDATE builds SET session_id = $2 WHERE id = $1`, id, sessionID)
	return err
}

// SetLastError records the most recent failure text so the next attempt's
// prompt can carry it as "previous error context".
func (s *BuildStore) SetLastError(ctx context.Context, id, text string) error {
	_, err := s.c.db.ExecContext(ctx, `UPDATE builds SET last_error = $2 WHERE id = $1`, id, text)
	return err
}

// MarkAICompleted transitions Build to ai_completed and stamps completed_at
// once the agent run succeeds, before the deploy stage runs.
func (s *BuildStore) MarkAICompleted(ctx context.Context, id string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE builds SET status = 'ai_completed', completed_at = now() WHERE id = $1`, id)
	return err
}

// MarkDeployed transitions Build to deployed — DeployWorker's terminal
// success path.
func (s *BuildStore) MarkDeployed(ctx context.Context, id string) error {
	_, err := s.c.db.ExecContext(ctx, `UPDATE builds SET status = 'deployed' WHERE id = $1`, id)
	return err
}

// MarkFailed transitions Build to failed and stamps completed_at.
func (s *BuildStore) MarkFailed(ctx context.Context, id string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE builds SET status = 'failed', completed_at = now() WHERE id = $1`, id)
	return err
}
