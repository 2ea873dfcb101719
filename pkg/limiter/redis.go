package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPorts is a single Redis-backed implementation of RateLimiter,
// IdempotencyStore, and Lease, following the incr-with-TTL idiom the pack
// uses for per-source rate limiting.
type RedisPorts struct {
	rdb *redis.Client
}

// NewRedisPorts wraps an existing *redis.Client.
func NewRedisPorts(rdb *redis.Client) *RedisPorts {
	return &RedisPorts{rdb: rdb}
}

// IncrWithTTL increments key, arming its TTL only on the first increment so
// a rolling window doesn't get its expiry reset by every request.
func (p *RedisPorts) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := p.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := p.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// GetOrPut implements the idempotency cache with SETNX semantics: the first
// caller to claim key wins and every subsequent caller within ttl observes
// the winner's value instead of re-running the operation.
func (p *RedisPorts) GetOrPut(ctx context.Context, key string, ttl time.Duration, value string) (string, bool, error) {
	ok, err := p.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return value, false, nil
	}
	existing, err := p.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", false, err
	}
	return existing, true, nil
}

var errNotLeaseOwner = errors.New("limiter: lease not held by this holder")

// Acquire claims key for holder if unowned, via SETNX.
func (p *RedisPorts) Acquire(ctx context.Context, key string, ttl time.Duration, holder string) (bool, error) {
	return p.rdb.SetNX(ctx, key, holder, ttl).Result()
}

// Renew extends key's TTL only if holder is still the owner, mirroring the
// "lease-renewal task renews at half-TTL" requirement of the shared-resource
// policy.
func (p *RedisPorts) Renew(ctx context.Context, key string, ttl time.Duration, holder string) (bool, error) {
	current, err := p.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current != holder {
		return false, nil
	}
	return true, p.rdb.Expire(ctx, key, ttl).Err()
}

// Release drops key only if holder still owns it, so a stale goroutine
// can never release a lease someone else has since acquired.
func (p *RedisPorts) Release(ctx context.Context, key string, holder string) error {
	current, err := p.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if current != holder {
		return errNotLeaseOwner
	}
	return p.rdb.Del(ctx, key).Err()
}
