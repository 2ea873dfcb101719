package adminapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgelabs/buildworker/pkg/corr"
	"github.com/forgelabs/buildworker/pkg/pipeline"
)

// monitoredQueues lists every queue whose pool health feeds the admin health
// response.
var monitoredQueues = []string{pipeline.StreamQueue, pipeline.MetadataQueue, pipeline.DeployQueue}

func (s *Server) adminPauseHandler(c *gin.Context) {
	var req AdminPauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	var resetAt *time.Time
	if req.Until != "" {
		t, err := time.Parse(time.RFC3339Nano, req.Until)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "until must be RFC3339"})
			return
		}
		resetAt = &t
	}

	ctx := corr.Ensure(c.Request.Context())
	slog.Info("admin pause requested", "correlation_id", corr.FromContext(ctx), "reason", req.Reason)

	if err := s.limits.Trip(ctx, req.Reason, resetAt); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true})
}

func (s *Server) adminResumeHandler(c *gin.Context) {
	ctx := corr.Ensure(c.Request.Context())
	slog.Info("admin resume requested", "correlation_id", corr.FromContext(ctx))

	if err := s.limits.Clear(ctx); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": false})
}

func (s *Server) adminHealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Queues: make(map[string]QueueHealth, len(monitoredQueues))}

	state, err := s.limits.Status(ctx)
	if err != nil {
		resp.Status = "error"
	} else {
		resp.RateLimit.Active = state.Active
		resp.RateLimit.Reason = state.Reason
		if state.ResetAt != nil {
			resp.RateLimit.ResetAt = state.ResetAt.Format(time.RFC3339Nano)
		}
		if state.Active {
			resp.Status = "degraded"
		}
	}

	for _, q := range monitoredQueues {
		health, err := s.queueRun.GetStats(ctx, q)
		if err != nil {
			resp.Status = "error"
			continue
		}
		resp.Queues[q] = QueueHealth{
			Healthy:       health.IsHealthy,
			ActiveWorkers: health.ActiveWorkers,
			TotalWorkers:  health.TotalWorkers,
			ActiveJobs:    health.ActiveJobs,
			QueueDepth:    health.QueueDepth,
		}
		if !health.IsHealthy && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if resp.Status == "error" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
