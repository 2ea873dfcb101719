// Package corr threads a request-scoped correlation id through
// context.Context, independent of the operationId idempotency key (see
// DESIGN.md's Open Question decisions).
package corr

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New mints a fresh correlation id.
func New() string {
	return uuid.NewString()
}

// WithID returns a context carrying id. An empty id is replaced with a fresh
// one, so callers can always pass through WithID(ctx, inboundHeader) even
// when the header was absent.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = New()
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id carried by ctx, or "" if none was
// ever attached.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Ensure returns ctx unchanged if it already carries a correlation id, or a
// derived context carrying a freshly minted one otherwise. Use this at the
// entry point of each inbound call (CreateBuild, ChatMessage,
// AdminPause, AdminResume, CloudflareDeployCallback) so every subsequent log
// line and published event carries one.
func Ensure(ctx context.Context) context.Context {
	if FromContext(ctx) != "" {
		return ctx
	}
	return WithID(ctx, New())
}
