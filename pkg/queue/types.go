// Package queue implements QueueRuntime: a durable,
// multi-queue job scheduler backed by Postgres FOR UPDATE SKIP LOCKED
// claiming, with per-queue worker pools, pause/resume, repeatable (cron)
// jobs, and orphan/heartbeat recovery.
package queue

import (
	"context"
	"time"

	"github.com/forgelabs/buildworker/pkg/queuemodel"
)

// Re-exported so callers outside pkg/store never need to import
// pkg/queuemodel directly.
var (
	ErrNoJobsAvailable = queuemodel.ErrNoJobsAvailable
	ErrAtCapacity = queuemodel.ErrAtCapacity
	ErrQueuePaused = queuemodel.ErrQueuePaused
	ErrUnrecoverable = queuemodel.ErrUnrecoverable
)

// Job is an alias of the shared job value type.
type Job = queuemodel.Job

// JobHandler processes a single job to completion. A handler that wraps its
// returned error with ErrUnrecoverable tells QueueRuntime to skip retries
// and move the job straight to "unrecoverable" — the "markUnrecoverable"
// capability of the queue runtime.
type JobHandler interface {
	Handle(ctx context.Context, job *Job) error
}

// JobHandlerFunc adapts a plain function to JobHandler.
type JobHandlerFunc func(ctx context.Context, job *Job) error

func (f JobHandlerFunc) Handle(ctx context.Context, job *Job) error { return f(ctx, job) }

// PoolHealth contains health information for one queue's worker pool.
type PoolHealth struct {
	Queue string `json:"queue"`
	IsHealthy bool `json:"is_healthy"`
	DBReachable bool `json:"db_reachable"`
	DBError string `json:"db_error,omitempty"`
	PodID string `json:"pod_id"`
	ActiveWorkers int `json:"active_workers"`
	TotalWorkers int `json:"total_workers"`
	ActiveJobs int `json:"active_jobs"`
	MaxConcurrent int `json:"max_concurrent"`
	QueueDepth int `json:"queue_depth"`
	Paused bool `json:"paused"`
	WorkerStats []WorkerHealth `json:"worker_stats"`
	LastOrphanScan time.Time `json:"last_orphan_scan"`
	OrphansRecovered int `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID string `json:"id"`
	Status string `json:"status"` // "idle" or "working"
	CurrentJobID string `json:"current_job_id,omitempty"`
	JobsHandled int `json:"jobs_handled"`
	LastActivity time.Time `json:"last_activity"`
}

// exponentialBackoff returns the delay before retry attempt n (1-indexed),
// starting at 1s and doubling, matching the stage-one enqueue
// policy and the general QueueRuntime backoff contract.
func exponentialBackoff(attempt int) time.Duration {
	d := time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return d
}
