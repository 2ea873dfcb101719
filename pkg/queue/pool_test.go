package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRegisterAndCancelJob(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[string]context.CancelFunc),
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterJob("job-1", cancel)

	assert.True(t, pool.CancelJob("job-1"))
	assert.Error(t, ctx.Err())

	assert.False(t, pool.CancelJob("unknown"))
}

func TestPoolUnregisterJob(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[string]context.CancelFunc),
	}

	_, cancel := context.WithCancel(context.Background())
	pool.RegisterJob("job-1", cancel)
	assert.True(t, pool.CancelJob("job-1"))

	pool.UnregisterJob("job-1")
	assert.False(t, pool.CancelJob("job-1"))
}

func TestPoolGetActiveJobIDs(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[string]context.CancelFunc),
	}

	ids := pool.getActiveJobIDs()
	assert.Empty(t, ids)

	_, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	pool.RegisterJob("job-a", cancel1)
	pool.RegisterJob("job-b", cancel2)

	ids = pool.getActiveJobIDs()
	require.Len(t, ids, 2)
	assert.Contains(t, ids, "job-a")
	assert.Contains(t, ids, "job-b")
}

func TestPoolStopTwiceDoesNotPanic(t *testing.T) {
	pool := &WorkerPool{
		stopCh:     make(chan struct{}),
		activeJobs: make(map[string]context.CancelFunc),
	}

	pool.Stop()
	assert.NotPanics(t, func() { pool.Stop() })
}

func TestPoolRegisterJobConcurrency(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[string]context.CancelFunc),
	}

	const numJobs = 100
	for i := 0; i < numJobs; i++ {
		go func(id int) {
			_, cancel := context.WithCancel(context.Background())
			defer cancel()
			jobID := fmt.Sprintf("job-%d", id)
			pool.RegisterJob(jobID, cancel)
		}(i)
	}

	require.Eventually(t, func() bool {
		pool.mu.RLock()
		defer pool.mu.RUnlock()
		return len(pool.activeJobs) == numJobs
	}, 1*time.Second, 10*time.Millisecond)
}

func TestPoolCancelNonExistentJob(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[string]context.CancelFunc),
	}
	assert.False(t, pool.CancelJob("nonexistent-job"))
}

func TestPoolUnregisterNonExistentJob(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[string]context.CancelFunc),
	}
	assert.NotPanics(t, func() {
		pool.UnregisterJob("nonexistent-job")
	})
}

func TestPoolMultipleJobLifecycle(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[string]context.CancelFunc),
	}

	jobs := []string{"job-1", "job-2", "job-3"}
	for _, id := range jobs {
		_, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.RegisterJob(id, cancel)
	}

	ids := pool.getActiveJobIDs()
	require.Len(t, ids, 3)

	assert.True(t, pool.CancelJob("job-2"))
	pool.UnregisterJob("job-2")

	ids = pool.getActiveJobIDs()
	require.Len(t, ids, 2)
	assert.Contains(t, ids, "job-1")
	assert.Contains(t, ids, "job-3")
	assert.NotContains(t, ids, "job-2")
}

func TestPoolRegisterSameJobTwice(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[string]context.CancelFunc),
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	pool.RegisterJob("job-1", cancel1)
	pool.RegisterJob("job-1", cancel2) // overwrites

	assert.True(t, pool.CancelJob("job-1"))
	assert.Error(t, ctx2.Err())
	assert.NoError(t, ctx1.Err())
}

func TestPoolConcurrentCancellation(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[string]context.CancelFunc),
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterJob("job-racy", cancel)

	const numGoroutines = 10
	results := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			results <- pool.CancelJob("job-racy")
		}()
	}

	var trueCount int
	for i := 0; i < numGoroutines; i++ {
		if <-results {
			trueCount++
		}
	}

	assert.Equal(t, numGoroutines, trueCount)
	assert.Error(t, ctx.Err())
}
