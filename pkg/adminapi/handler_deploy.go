package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgelabs/buildworker/pkg/corr"
	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/events"
)

// cloudflareDeployCallbackHandler receives the deploy provider's
// out-of-band completion notice. The provider's own deployment_id is logged
// for correlation but carries no meaning to this worker plane; build_id is
// the key that lets this handler resolve which Project/Build to transition,
// mirroring the in-process DeployWorker path. It never touches a Version
// row — version promotion happens in the metadata stage, not at deploy
// time.
func (s *Server) cloudflareDeployCallbackHandler(c *gin.Context) {
	var req CloudflareDeployCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx := corr.Ensure(c.Request.Context())
	cid := corr.FromContext(ctx)
	build, err := s.builds.Get(ctx, req.BuildID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown build_id"})
		return
	}

	if req.Status != "success" {
		if err := s.builds.MarkFailed(ctx, build.ID); err != nil {
			writeServiceError(c, err)
			return
		}
		if err := s.projects.MarkFailed(ctx, build.ProjectID); err != nil {
			writeServiceError(c, err)
			return
		}
		if pubErr := s.publisher.PublishBuildLifecycle(ctx, build.ProjectID, events.BuildLifecyclePayload{
			Type:      events.EventTypeBuildFailed,
			ProjectID: build.ProjectID,
			BuildID:   build.ID,
			ErrorType:     string(errs.KindDeployFailed),
			Message:       "deploy provider reported failure",
			Timestamp:     time.Now().Format(time.RFC3339Nano),
			CorrelationID: cid,
		}); pubErr != nil {
			writeServiceError(c, pubErr)
			return
		}
		c.JSON(http.StatusOK, CallbackAckResponse{Acknowledged: true})
		return
	}

	if err := s.builds.MarkDeployed(ctx, build.ID); err != nil {
		writeServiceError(c, err)
		return
	}
	if err := s.projects.MarkDeployed(ctx, build.ProjectID, req.URL, ""); err != nil {
		writeServiceError(c, err)
		return
	}
	if pubErr := s.publisher.PublishBuildLifecycle(ctx, build.ProjectID, events.BuildLifecyclePayload{
		Type:          events.EventTypeBuildCompleted,
		ProjectID:     build.ProjectID,
		BuildID:       build.ID,
		Timestamp:     time.Now().Format(time.RFC3339Nano),
		CorrelationID: cid,
	}); pubErr != nil {
		writeServiceError(c, pubErr)
		return
	}

	c.JSON(http.StatusOK, CallbackAckResponse{Acknowledged: true})
}
