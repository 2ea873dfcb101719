package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestPorts(t *testing.T) (*RedisPorts, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisPorts(client), srv
}

func TestRedisPorts_IncrWithTTLArmsExpiryOnce(t *testing.T) {
	ports, srv := newTestPorts(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := ports.IncrWithTTL(ctx, "ip:1.2.3.4", time.Minute)
		require.NoError(t, err)
		require.Equal(t, i, count)
	}

	ttl := srv.TTL("ip:1.2.3.4")
	require.Greater(t, ttl, time.Duration(0))
}

func TestRedisPorts_GetOrPutFirstCallerWins(t *testing.T) {
	ports, _ := newTestPorts(t)
	ctx := context.Background()

	v1, loaded1, err := ports.GetOrPut(ctx, "op:abc", time.Minute, "build-1")
	require.NoError(t, err)
	require.False(t, loaded1)
	require.Equal(t, "build-1", v1)

	v2, loaded2, err := ports.GetOrPut(ctx, "op:abc", time.Minute, "build-2")
	require.NoError(t, err)
	require.True(t, loaded2)
	require.Equal(t, "build-1", v2)
}

func TestRedisPorts_LeaseAcquireRenewRelease(t *testing.T) {
	ports, _ := newTestPorts(t)
	ctx := context.Background()

	ok, err := ports.Acquire(ctx, "rollback:proj-1", time.Minute, "worker-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ports.Acquire(ctx, "rollback:proj-1", time.Minute, "worker-b")
	require.NoError(t, err)
	require.False(t, ok, "second acquirer must not steal the lease")

	renewed, err := ports.Renew(ctx, "rollback:proj-1", time.Minute, "worker-b")
	require.NoError(t, err)
	require.False(t, renewed, "non-owner cannot renew")

	renewed, err = ports.Renew(ctx, "rollback:proj-1", time.Minute, "worker-a")
	require.NoError(t, err)
	require.True(t, renewed)

	err = ports.Release(ctx, "rollback:proj-1", "worker-b")
	require.ErrorIs(t, err, errNotLeaseOwner)

	require.NoError(t, ports.Release(ctx, "rollback:proj-1", "worker-a"))

	ok, err = ports.Acquire(ctx, "rollback:proj-1", time.Minute, "worker-b")
	require.NoError(t, err)
	require.True(t, ok, "lease must be free after release")
}
