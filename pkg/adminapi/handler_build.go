package adminapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgelabs/buildworker/pkg/corr"
	"github.com/forgelabs/buildworker/pkg/pipeline"
)

func (s *Server) createBuildHandler(c *gin.Context) {
	var req CreateBuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx := corr.Ensure(c.Request.Context())
	cid := corr.FromContext(ctx)
	slog.Info("build requested", "correlation_id", cid, "project_id", req.ProjectID, "user_id", req.UserID)

	result, err := s.initiator.Initiate(ctx, pipeline.InitiateOptions{
		UserID:            req.UserID,
		ProjectID:         req.ProjectID,
		Prompt:            req.Prompt,
		Framework:         req.Framework,
		IsInitialBuild:    req.IsInitialBuild,
		BaseVersionID:     req.BaseVersionID,
		PreviousSessionID: req.PreviousSessionID,
		OperationID:       req.OperationID,
		Source:            req.Source,
		CorrelationID:     cid,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, BuildResponse{
		BuildID:     result.BuildID,
		VersionID:   result.VersionID,
		JobID:       result.JobID,
		Status:      result.Status,
		ProjectPath: result.ProjectPath,
	})
}
