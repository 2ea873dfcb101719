package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/forgelabs/buildworker/pkg/config"
)

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             5,
		MaxConcurrentJobs:       5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		JobTimeout:              15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
	}
}

func TestWorkerPollInterval(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("test-worker", "test-pod", "build-stage-one", nil, cfg, nil, nil)

	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond, "poll interval below minimum")
		assert.LessOrEqual(t, d, 1500*time.Millisecond, "poll interval above maximum")
	}
}

func TestWorkerPollIntervalNoJitter(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollIntervalJitter = 0
	w := NewWorker("test-worker", "test-pod", "build-stage-one", nil, cfg, nil, nil)

	for i := 0; i < 10; i++ {
		d := w.pollInterval()
		assert.Equal(t, 1*time.Second, d, "poll interval should equal base when jitter is 0")
	}
}

func TestWorkerPollIntervalWithNegativeJitter(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollInterval = 1 * time.Second
	cfg.PollIntervalJitter = -100 * time.Millisecond
	w := NewWorker("test-worker", "test-pod", "build-stage-one", nil, cfg, nil, nil)

	for i := 0; i < 10; i++ {
		d := w.pollInterval()
		assert.Equal(t, 1*time.Second, d)
	}
}

func TestWorkerHealth(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("worker-1", "pod-1", "metadata", nil, cfg, nil, nil)

	h := w.Health()
	assert.Equal(t, "worker-1", h.ID)
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Equal(t, "", h.CurrentJobID)
	assert.Equal(t, 0, h.JobsHandled)

	w.setStatus(WorkerStatusWorking, "job-abc")
	h = w.Health()
	assert.Equal(t, string(WorkerStatusWorking), h.Status)
	assert.Equal(t, "job-abc", h.CurrentJobID)

	w.setStatus(WorkerStatusIdle, "")
	h = w.Health()
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Equal(t, "", h.CurrentJobID)
}

func TestWorkerStopIdempotent(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("worker-1", "pod-1", "deploy", nil, cfg, nil, nil)

	assert.NotPanics(t, func() { w.Stop() })
	assert.NotPanics(t, func() { w.Stop() })
}

func TestExponentialBackoff(t *testing.T) {
	assert.Equal(t, 1*time.Second, exponentialBackoff(1))
	assert.Equal(t, 2*time.Second, exponentialBackoff(2))
	assert.Equal(t, 4*time.Second, exponentialBackoff(3))
	assert.LessOrEqual(t, exponentialBackoff(20), 5*time.Minute)
}
