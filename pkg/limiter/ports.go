// Package limiter implements LimitController and the narrow
// Redis-backed ports it and the rest of the worker plane lease from a shared
// key/value store: RateLimiter (incr-with-ttl throttling), IdempotencyStore
// (getOrPut dedup cache), and Lease (rollback locking). Each port is the
// minimum viable surface, kept separate from
// LimitController itself so a future swap of backing store never touches
// the controller's logic.
package limiter

import (
	"context"
	"time"
)

// RateLimiter implements the incr-with-TTL counter pattern used for IP/user
// throttles. Count is the counter's value after this increment.
type RateLimiter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (count int64, err error)
}

// IdempotencyStore implements a getOrPut cache: if key is absent it is set
// to value with the given ttl and (value, false) is returned; if present,
// the existing value and true are returned. Used to collapse duplicate
// inbound calls sharing an idempotency key.
type IdempotencyStore interface {
	GetOrPut(ctx context.Context, key string, ttl time.Duration, value string) (existing string, loaded bool, err error)
}

// Lease implements a TTL'd mutual-exclusion lock: Acquire fails (ok=false)
// if another holder already owns the key. Renew extends an owned lease;
// Release drops it. Holder is an opaque token identifying the caller so a
// lease can't be released or renewed by someone who never acquired it.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration, holder string) (ok bool, err error)
	Renew(ctx context.Context, key string, ttl time.Duration, holder string) (ok bool, err error)
	Release(ctx context.Context, key string, holder string) error
}
