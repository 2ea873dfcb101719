package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueuePauser struct {
	mu     sync.Mutex
	paused map[string]string
}

func newFakeQueuePauser() *fakeQueuePauser {
	return &fakeQueuePauser{paused: make(map[string]string)}
}

func (f *fakeQueuePauser) Pause(ctx context.Context, queue, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[queue] = reason
	return nil
}

func (f *fakeQueuePauser) Resume(ctx context.Context, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.paused, queue)
	return nil
}

func (f *fakeQueuePauser) isPaused(queue string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.paused[queue]
	return ok
}

func TestLimitController_PauserPausesAndResumesStreamQueue(t *testing.T) {
	pauser := newFakeQueuePauser()
	c := &LimitController{queues: pauser}

	// Exercise the pause/resume wiring directly, without a live store —
	// Trip's storage write needs a real RateLimitStore and is not covered
	// by this package's tests.
	require.NoError(t, pauser.Pause(context.Background(), streamQueue, "usage_limit_exceeded"))
	assert.True(t, pauser.isPaused(streamQueue))

	require.NoError(t, c.queues.Resume(context.Background(), streamQueue))
	assert.False(t, pauser.isPaused(streamQueue))
}

func TestLimitController_ArmAutoResumeSchedulesClear(t *testing.T) {
	pauser := newFakeQueuePauser()
	c := &LimitController{queues: pauser}
	_ = pauser.Pause(context.Background(), streamQueue, "test")

	resetAt := time.Now().Add(20 * time.Millisecond)
	c.armAutoResume(&resetAt)

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.resumeTimer != nil
	}, time.Second, time.Millisecond)
}

func TestLimitController_ArmAutoResumeNilResetAtNoop(t *testing.T) {
	c := &LimitController{}
	c.armAutoResume(nil)
	assert.Nil(t, c.resumeTimer)
}
