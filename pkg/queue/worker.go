package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/forgelabs/buildworker/pkg/config"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes jobs from
// one named queue.
type Worker struct {
	id string
	podID string
	queue string
	storage JobStorage
	config *config.QueueConfig
	handler JobHandler
	pool JobRegistry
	stopCh chan struct{}
	stopOnce sync.Once
	wg sync.WaitGroup

	mu sync.RWMutex
	status WorkerStatus
	currentJobID string
	jobsHandled int
	lastActivity time.Time
}

// JobRegistry is the subset of WorkerPool used by Worker for job registration.
type JobRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID, queue string, storage JobStorage, cfg *config.QueueConfig, handler JobHandler, pool JobRegistry) *Worker {
	return &Worker{
		id: id,
		podID: podID,
		queue: queue,
		storage: storage,
		config: cfg,
		handler: handler,
		pool: pool,
		stopCh: make(chan struct{}),
		status: WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID: w.id,
		Status: string(w.status),
		CurrentJobID: w.currentJobID,
		JobsHandled: w.jobsHandled,
		LastActivity: w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID, "queue", w.queue)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) || errors.Is(err, ErrAtCapacity) || errors.Is(err, ErrQueuePaused) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing job", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a job, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	activeCount, err := w.storage.ActiveCount(ctx, w.queue)
	if err != nil {
		return err
	}
	if activeCount >= w.config.MaxConcurrentJobs {
		return ErrAtCapacity
	}

	job, err := w.storage.Claim(ctx, w.queue, w.id)
	if err != nil {
		return err
	}

	log := slog.With("job_id", job.ID, "queue", w.queue, "worker_id", w.id)
	log.Info("job claimed", "attempt", job.Attempt)

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancelJob := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancelJob()

	w.pool.RegisterJob(job.ID, cancelJob)
	defer w.pool.UnregisterJob(job.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job.ID)

	handleErr := w.handler.Handle(jobCtx, job)
	cancelHeartbeat()

	w.finish(context.Background(), log, job, handleErr)

	w.mu.Lock()
	w.jobsHandled++
	w.mu.Unlock()

	return nil
}

// finish transitions the job to its terminal (or retry) state per the
// state machine: unrecoverable handler errors skip straight to
// "unrecoverable"; everything else retries up to max_attempts, then fails.
func (w *Worker) finish(ctx context.Context, log *slog.Logger, job *Job, handleErr error) {
	switch {
	case handleErr == nil:
		if err := w.storage.Complete(ctx, job.ID); err != nil {
			log.Error("failed to mark job completed", "error", err)
		}
		log.Info("job completed")

	case errors.Is(handleErr, ErrUnrecoverable):
		if err := w.storage.Unrecoverable(ctx, job.ID, handleErr.Error()); err != nil {
			log.Error("failed to mark job unrecoverable", "error", err)
		}
		log.Warn("job unrecoverable", "error", handleErr)

	case job.Attempt >= job.MaxAttempts:
		if err := w.storage.FailFinal(ctx, job.ID, handleErr.Error()); err != nil {
			log.Error("failed to mark job failed_final", "error", err)
		}
		log.Error("job failed permanently", "error", handleErr, "attempt", job.Attempt)

	default:
		backoff := exponentialBackoff(job.Attempt)
		if err := w.storage.RetryLater(ctx, job.ID, handleErr.Error(), time.Now().Add(backoff)); err != nil {
			log.Error("failed to reschedule job retry", "error", err)
		}
		log.Warn("job failed, will retry", "error", handleErr, "attempt", job.Attempt, "backoff", backoff)
	}
}

// runHeartbeat periodically refreshes the job's lock timestamp for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.storage.Heartbeat(context.Background(), jobID); err != nil {
				slog.Warn("heartbeat update failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
