package adminapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/forgelabs/buildworker/pkg/corr"
	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/models"
	"github.com/forgelabs/buildworker/pkg/pipeline"
)

// chatMessageHandler appends a client message to the project timeline and,
// for mode=build, starts a follow-up build from it. mode=plan only persists
// the message: a conversational turn that does not touch the pipeline.
func (s *Server) chatMessageHandler(c *gin.Context) {
	projectID := c.Param("projectId")

	var req ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx := corr.Ensure(c.Request.Context())
	cid := corr.FromContext(ctx)
	msg := &models.Message{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		ActorType:    models.ActorClient,
		Mode:         models.MessageMode(req.Mode),
		Text:         req.Text,
		ResponseData: map[string]any{"correlation_id": cid},
	}

	if err := s.publisher.PublishMessageNew(ctx, msg); err != nil {
		if errors.Is(err, errs.ErrDuplicateAssistantReply) {
			c.JSON(http.StatusOK, MessageResponse{MessageID: msg.ID, Status: "duplicate"})
			return
		}
		writeServiceError(c, err)
		return
	}

	resp := MessageResponse{MessageID: msg.ID, Seq: msg.Seq, Status: "recorded"}

	if req.Mode == string(models.ModeBuild) {
		result, err := s.initiator.Initiate(ctx, pipeline.InitiateOptions{
			UserID:            req.UserID,
			ProjectID:         projectID,
			Prompt:            req.Text,
			IsInitialBuild:    false,
			OperationID:       req.ClientMsgID,
			Source:            "chat",
			CorrelationID:     cid,
		})
		if err != nil {
			writeServiceError(c, err)
			return
		}
		resp.BuildID = result.BuildID
		resp.Status = result.Status
	}

	c.JSON(http.StatusAccepted, resp)
}
