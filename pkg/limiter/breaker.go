package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/forgelabs/buildworker/pkg/errs"
)

// UpstreamBreaker wraps calls to the upstream agent-provider API (balance
// checks, usage-limit signals) in a circuit breaker so a provider outage
// degrades to fast failures instead of piling up blocked workers.
type UpstreamBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewUpstreamBreaker opens the breaker after 5 consecutive failures and
// probes again after a 30s cooldown, a conservative default matching the
// pack's "external API circuit breaker" usage.
func NewUpstreamBreaker(name string) *UpstreamBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A *errs.BuildError is the upstream answering normally with a
		// business-logic verdict (insufficient funds, a usage limit) — that
		// counts as the call succeeding for breaker purposes. Only an error
		// that isn't one (timeout, connection refused, 5xx) represents the
		// provider actually being unreachable.
		IsSuccessful: func(err error) bool {
			var be *errs.BuildError
			return err == nil || errors.As(err, &be)
		},
	}
	return &UpstreamBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. ctx cancellation is the caller's
// responsibility inside fn; the breaker itself only tracks success/failure.
func (b *UpstreamBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// State reports the breaker's current state for health surfaces.
func (b *UpstreamBreaker) State() string {
	return b.cb.State().String()
}
