package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgelabs/buildworker/pkg/config"
)

// JobStorage is the subset of pkg/store.JobStore a WorkerPool needs —
// satisfied structurally, so pkg/queue never imports pkg/store directly.
type JobStorage interface {
	Claim(ctx context.Context, queue, workerID string) (*Job, error)
	Complete(ctx context.Context, id string) error
	RetryLater(ctx context.Context, id, errMsg string, runAt time.Time) error
	FailFinal(ctx context.Context, id, errMsg string) error
	Unrecoverable(ctx context.Context, id, errMsg string) error
	Heartbeat(ctx context.Context, id string) error
	ReclaimOrphans(ctx context.Context, threshold time.Duration) (int, error)
	Depth(ctx context.Context, queue string) (int, error)
	ActiveCount(ctx context.Context, queue string) (int, error)
	IsPaused(ctx context.Context, queue string) (bool, string, error)
}

// WorkerPool manages a pool of workers polling a single named queue (e.g.
// "build-stage-one", "metadata", "deploy"), matching the "small fixed pool
// of concurrent workers per queue" scheduling model.
type WorkerPool struct {
	podID string
	queue string
	storage JobStorage
	config *config.QueueConfig
	handler JobHandler
	workers []*Worker
	stopCh chan struct{}
	stopOnce sync.Once
	wg sync.WaitGroup

	// Job cancel registry: job id → cancel function
	activeJobs map[string]context.CancelFunc
	mu sync.RWMutex
	started bool

	orphans orphanState
}

// NewWorkerPool creates a new worker pool for one queue.
func NewWorkerPool(podID, queue string, storage JobStorage, cfg *config.QueueConfig, handler JobHandler) *WorkerPool {
	return &WorkerPool{
		podID: podID,
		queue: queue,
		storage: storage,
		config: cfg,
		handler: handler,
		workers: make([]*Worker, 0, cfg.WorkerCount),
		stopCh: make(chan struct{}),
		activeJobs: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the orphan detection background task.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "queue", p.queue, "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("starting worker pool", "queue", p.queue, "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-%s-worker-%d", p.podID, p.queue, i)
		worker := NewWorker(workerID, p.podID, p.queue, p.storage, p.config, p.handler, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	return nil
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their current job before exiting (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool", "queue", p.queue)

	active := p.getActiveJobIDs()
	if len(active) > 0 {
		slog.Info("waiting for active jobs to complete", "queue", p.queue, "count", len(active), "job_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped", "queue", p.queue)
}

// RegisterJob stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterJob(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
}

// UnregisterJob removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

// CancelJob triggers context cancellation for a job on this pod. Returns
// true if the job was found and cancelled on this pod.
func (p *WorkerPool) CancelJob(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeJobs[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	queueDepth, errQ := p.storage.Depth(ctx, p.queue)
	if errQ != nil {
		slog.Error("failed to query queue depth for health check", "queue", p.queue, "error", errQ)
	}

	activeJobs, errA := p.storage.ActiveCount(ctx, p.queue)
	if errA != nil {
		slog.Error("failed to query active jobs for health check", "queue", p.queue, "error", errA)
	}

	paused, _, errP := p.storage.IsPaused(ctx, p.queue)
	if errP != nil {
		slog.Error("failed to query pause state for health check", "queue", p.queue, "error", errP)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	dbHealthy := errQ == nil && errA == nil && errP == nil
	isHealthy := len(p.workers) > 0 && activeJobs <= p.config.MaxConcurrentJobs && dbHealthy

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastOrphanScan
	orphansRecovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	var dbError string
	if !dbHealthy {
		switch {
		case errQ != nil:
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		case errA != nil:
			dbError = fmt.Sprintf("active jobs query failed: %v", errA)
		case errP != nil:
			dbError = fmt.Sprintf("pause state query failed: %v", errP)
		}
	}

	return &PoolHealth{
		Queue: p.queue,
		IsHealthy: isHealthy,
		DBReachable: dbHealthy,
		DBError: dbError,
		PodID: p.podID,
		ActiveWorkers: activeWorkers,
		TotalWorkers: len(p.workers),
		ActiveJobs: activeJobs,
		MaxConcurrent: p.config.MaxConcurrentJobs,
		QueueDepth: queueDepth,
		Paused: paused,
		WorkerStats: workerStats,
		LastOrphanScan: lastOrphanScan,
		OrphansRecovered: orphansRecovered,
	}
}

// getActiveJobIDs returns IDs of currently processing jobs (for logging).
func (p *WorkerPool) getActiveJobIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	jobs := make([]string, 0, len(p.activeJobs))
	for id := range p.activeJobs {
		jobs = append(jobs, id)
	}
	return jobs
}
