package adminapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgelabs/buildworker/pkg/limiter"
)

// userRateLimitWindow and userRateLimitMax bound how many build/chat
// requests a single user may submit per window, independent of the global
// LimitController (which reacts to the upstream provider, not a caller).
const (
	userRateLimitWindow = time.Minute
	userRateLimitMax    = 20
)

// userRateLimit throttles POST /api/v1/* by the X-User-Id request header
// (requests without one are not throttled), using
// RedisPorts' incr-with-TTL counter. Per the shared-resource policy this is
// fail-open: if Redis is unreachable the request is let through rather than
// blocking build submission on a non-authoritative cache.
func userRateLimit(ports *limiter.RedisPorts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ports == nil {
			c.Next()
			return
		}
		userID := c.GetHeader("X-User-Id")
		if userID == "" {
			c.Next()
			return
		}

		count, err := ports.IncrWithTTL(c.Request.Context(), "ratelimit:user:"+userID, userRateLimitWindow)
		if err != nil {
			c.Next()
			return
		}
		if count > userRateLimitMax {
			c.Header("Retry-After", strconv.Itoa(int(userRateLimitWindow.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "request rate limit exceeded"})
			return
		}
		c.Next()
	}
}
