package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/forgelabs/buildworker/pkg/config"
	"github.com/forgelabs/buildworker/pkg/store"
)

// QueueRuntime is the top-level queue-runtime contract: a durable
// multi-queue scheduler exposing enqueue/registerWorker/pause/resume/
// getStats/addRepeatable/markUnrecoverable, backed by pkg/store.JobStore and
// robfig/cron/v3 for the repeatable-job scheduler.
type QueueRuntime struct {
	podID string
	jobs *store.JobStore
	defaultCfg *config.QueueConfig

	mu sync.Mutex
	pools map[string]*WorkerPool
	cron *cron.Cron

	started bool
}

// EnqueueOptions customizes a single Enqueue call.
type EnqueueOptions struct {
	// RunAt schedules the job at an absolute time (delayed jobs).
	RunAt time.Time
	// DelayFor is an alternative to RunAt: schedule DelayFor from now.
	DelayFor time.Duration
	// MaxAttempts overrides the default attempt cap (default 3).
	MaxAttempts int
}

// NewQueueRuntime creates a QueueRuntime for one pod/replica.
func NewQueueRuntime(podID string, jobs *store.JobStore, defaultCfg *config.QueueConfig) *QueueRuntime {
	return &QueueRuntime{
		podID: podID,
		jobs: jobs,
		defaultCfg: defaultCfg,
		pools: make(map[string]*WorkerPool),
		cron: cron.New(),
	}
}

// Enqueue inserts a job, idempotent on jobID.
func (r *QueueRuntime) Enqueue(ctx context.Context, queue, jobID, name string, payload any, opts EnqueueOptions) (bool, error) {
	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
		if opts.DelayFor > 0 {
			runAt = runAt.Add(opts.DelayFor)
		}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return r.jobs.Enqueue(ctx, queue, jobID, name, payload, runAt, maxAttempts)
}

// RegisterWorker registers a handler for a named queue with a pool of
// workers. cfg may be nil to use the runtime's default QueueConfig. Must be
// called before Start.
func (r *QueueRuntime) RegisterWorker(queue string, handler JobHandler, cfg *config.QueueConfig) {
	if cfg == nil {
		cfg = r.defaultCfg
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[queue] = NewWorkerPool(r.podID, queue, r.jobs, cfg, handler)
}

// Start begins every registered pool's worker goroutines and the repeatable
// (cron) job scheduler, loading any persisted repeatable-job registrations
// so a restart does not multiply the schedule.
func (r *QueueRuntime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.started = true

	for queue, pool := range r.pools {
		if err := pool.Start(ctx); err != nil {
			return fmt.Errorf("start pool %q: %w", queue, err)
		}
	}

	repeatables, err := r.jobs.ListRepeatable(ctx)
	if err != nil {
		return fmt.Errorf("load repeatable jobs: %w", err)
	}
	for _, rep := range repeatables {
		rep := rep
		if _, err := r.cron.AddFunc(rep.CronExpr, func() {
			jobID := fmt.Sprintf("%s:%s:%d", rep.Queue, rep.Name, time.Now().Unix())
			if _, err := r.Enqueue(context.Background(), rep.Queue, jobID, rep.Name, rep.Payload, EnqueueOptions{}); err != nil {
				slog.Error("repeatable job enqueue failed", "queue", rep.Queue, "name", rep.Name, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule repeatable job %s/%s: %w", rep.Queue, rep.Name, err)
		}
	}
	r.cron.Start()

	return nil
}

// Stop stops every pool and the cron scheduler.
func (r *QueueRuntime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pool := range r.pools {
		pool.Stop()
	}
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}

// Pause pauses a single queue, or every registered queue when queue == "".
func (r *QueueRuntime) Pause(ctx context.Context, queue, reason string) error {
	r.mu.Lock()
	queues := r.queueNames(queue)
	r.mu.Unlock()
	for _, q := range queues {
		if err := r.jobs.Pause(ctx, q, reason); err != nil {
			return fmt.Errorf("pause queue %q: %w", q, err)
		}
	}
	return nil
}

// Resume resumes a single queue, or every registered queue when queue == "".
func (r *QueueRuntime) Resume(ctx context.Context, queue string) error {
	r.mu.Lock()
	queues := r.queueNames(queue)
	r.mu.Unlock()
	for _, q := range queues {
		if err := r.jobs.Resume(ctx, q); err != nil {
			return fmt.Errorf("resume queue %q: %w", q, err)
		}
	}
	return nil
}

func (r *QueueRuntime) queueNames(queue string) []string {
	if queue != "" {
		return []string{queue}
	}
	names := make([]string, 0, len(r.pools))
	for q := range r.pools {
		names = append(names, q)
	}
	return names
}

// GetStats returns the pool health for a named queue.
func (r *QueueRuntime) GetStats(ctx context.Context, queue string) (*PoolHealth, error) {
	r.mu.Lock()
	pool, ok := r.pools[queue]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown queue %q", queue)
	}
	return pool.Health(ctx), nil
}

// AddRepeatable registers a cron-scheduled job. Persisted immediately; live
// registration with the running cron scheduler takes effect on the next
// Start (process restart), matching the "stable identity" requirement of
// rather than attempting to hot-reload a running cron.Cron.
func (r *QueueRuntime) AddRepeatable(ctx context.Context, queue, name, cronExpr string, payload any) error {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return r.jobs.UpsertRepeatable(ctx, queue, name, cronExpr, payload)
}

// MarkUnrecoverable flags an in-flight job as unrecoverable from outside its
// handler — e.g. LimitController reacting to an upstream signal that
// invalidates jobs already dispatched.
func (r *QueueRuntime) MarkUnrecoverable(ctx context.Context, jobID, reason string) error {
	return r.jobs.Unrecoverable(ctx, jobID, reason)
}
