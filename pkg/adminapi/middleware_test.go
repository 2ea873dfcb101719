package adminapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/forgelabs/buildworker/pkg/limiter"
)

func newTestRedisPorts(t *testing.T) *limiter.RedisPorts {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return limiter.NewRedisPorts(client)
}

func newThrottledEngine(ports *limiter.RedisPorts) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	group := e.Group("/api/v1", userRateLimit(ports))
	group.POST("/builds", func(c *gin.Context) { c.JSON(http.StatusAccepted, gin.H{}) })
	return e
}

func TestUserRateLimit_AllowsUnderThreshold(t *testing.T) {
	ports := newTestRedisPorts(t)
	e := newThrottledEngine(ports)

	for i := 0; i < userRateLimitMax; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/builds", nil)
		req.Header.Set("X-User-Id", "user-1")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
}

func TestUserRateLimit_BlocksOverThreshold(t *testing.T) {
	ports := newTestRedisPorts(t)
	e := newThrottledEngine(ports)

	for i := 0; i < userRateLimitMax; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/builds", nil)
		req.Header.Set("X-User-Id", "user-2")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/builds", nil)
	req.Header.Set("X-User-Id", "user-2")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestUserRateLimit_FailsOpenWithoutPorts(t *testing.T) {
	e := newThrottledEngine(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/builds", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}
