package limiter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgelabs/buildworker/pkg/events"
	"github.com/forgelabs/buildworker/pkg/models"
	"github.com/forgelabs/buildworker/pkg/queue"
	"github.com/forgelabs/buildworker/pkg/store"
)

// streamQueue is the only queue LimitController pauses — while
// RateLimitState.active is true, QueueRuntime dispatches no jobs on the
// stream queue"), other queues (metadata, deploy) are unaffected by an
// upstream rate limit.
const streamQueue = "build-stage-one"

// QueuePauser is the subset of QueueRuntime LimitController drives.
type QueuePauser interface {
	Pause(ctx context.Context, queue, reason string) error
	Resume(ctx context.Context, queue string) error
}

// LimitController is the singleton rate-limit authority: it observes
// usage_limit_exceeded / system_config_error signals, owns RateLimitState
// exclusively, and is QueueRuntime's sole programmatic pause/resume caller
// besides the admin interface.
type LimitController struct {
	rateLimits *store.RateLimitStore
	publisher *events.EventPublisher
	queues QueuePauser

	mu sync.Mutex
	resumeTimer *time.Timer
}

// NewLimitController wires the controller against its storage, event bus,
// and the QueueRuntime it pauses/resumes.
func NewLimitController(rateLimits *store.RateLimitStore, publisher *events.EventPublisher, queues QueuePauser) *LimitController {
	return &LimitController{rateLimits: rateLimits, publisher: publisher, queues: queues}
}

var _ QueuePauser = (*queue.QueueRuntime)(nil)

// Trip activates the global limit with reason and, if resetAt is non-zero,
// schedules an automatic Clear at that time. Called by StreamWorker on a
// usage_limit_exceeded or system_config_error failure classification.
func (c *LimitController) Trip(ctx context.Context, reason string, resetAt *time.Time) error {
	var resetAtCol sql.NullTime
	if resetAt != nil {
		resetAtCol = sql.NullTime{Time: *resetAt, Valid: true}
	}
	if err := c.rateLimits.SetActive(ctx, reason, resetAtCol); err != nil {
		return fmt.Errorf("trip rate limit: %w", err)
	}
	if err := c.queues.Pause(ctx, streamQueue, reason); err != nil {
		return fmt.Errorf("pause stream queue: %w", err)
	}

	slog.Warn("limit controller tripped", "reason", reason, "reset_at", resetAt)
	c.broadcast(ctx, models.RateLimitState{Active: true, Reason: reason, ResetAt: resetAt})

	c.armAutoResume(resetAt)
	return nil
}

// Clear immediately deactivates the limit and resumes the stream queue,
// whether called by the resetAt timer or by an administrator's manual
// clear.
func (c *LimitController) Clear(ctx context.Context) error {
	c.mu.Lock()
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
		c.resumeTimer = nil
	}
	c.mu.Unlock()

	if err := c.rateLimits.Clear(ctx); err != nil {
		return fmt.Errorf("clear rate limit: %w", err)
	}
	if err := c.queues.Resume(ctx, streamQueue); err != nil {
		return fmt.Errorf("resume stream queue: %w", err)
	}

	slog.Info("limit controller cleared, stream queue resumed")
	c.broadcast(ctx, models.RateLimitState{Active: false})
	return nil
}

// Status returns the current RateLimitState, consulted by StreamWorker's
// pre-flight check before dispatching a new attempt.
func (c *LimitController) Status(ctx context.Context) (*models.RateLimitState, error) {
	state, err := c.rateLimits.Get(ctx)
	if err != nil {
		// Fail-closed for the global limit: if the last check
		// didn't succeed recently, treat the limit as active rather than
		// risk dispatching into a provider that's still rejecting calls.
		return &models.RateLimitState{Active: true, Reason: "rate limit state unavailable: " + err.Error()}, err
	}
	return state, nil
}

func (c *LimitController) armAutoResume(resetAt *time.Time) {
	if resetAt == nil {
		return
	}
	delay := time.Until(*resetAt)
	if delay < 0 {
		delay = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
	}
	c.resumeTimer = time.AfterFunc(delay, func() {
		if err := c.Clear(context.Background()); err != nil {
			slog.Error("auto-resume clear failed", "error", err)
		}
	})
}

func (c *LimitController) broadcast(ctx context.Context, state models.RateLimitState) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishRateLimitChanged(ctx, state); err != nil {
		slog.Error("failed to broadcast rate limit state", "error", err)
	}
}
