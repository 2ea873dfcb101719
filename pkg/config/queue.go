package config

import "time"

// QueueConfig contains queue and worker pool configuration shared by every
// named queue (build-stage-one, metadata, deploy). These values control how
// jobs are polled, claimed, and processed by QueueRuntime.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod, per queue.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentJobs is the global limit of concurrently active jobs in a
	// queue, across ALL replicas/pods. Enforced by a database COUNT(*) check.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// PollInterval is the base interval for checking waiting jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is the maximum time a single job may run before its
	// context is cancelled.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active jobs
	// to complete during shutdown. Should match JobTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// HeartbeatInterval is how often an in-flight job's lock is refreshed
	// so orphan detection does not reclaim live work.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanDetectionInterval is how often to scan for orphaned jobs.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a job can go without a heartbeat
	// before it is considered orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             3,
		MaxConcurrentJobs:       5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		JobTimeout:              15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
	}
}
