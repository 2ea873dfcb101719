package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChatMessageHandler_PlanModeOnlyPersists(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-chat-1", "user-1"))

	s := newTestServer(t, client)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/projects/proj-chat-1/messages", ChatMessageRequest{
		UserID: "user-1", ClientMsgID: "client-msg-1", Mode: "plan", Text: "what does this button do?",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "recorded", resp.Status)
	require.Empty(t, resp.BuildID)
}

func TestChatMessageHandler_BuildModeStartsFollowUpBuild(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-chat-2", "user-1"))

	s := newTestServer(t, client)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/projects/proj-chat-2/messages", ChatMessageRequest{
		UserID: "user-1", ClientMsgID: "client-msg-2", Mode: "build", Text: "add a dark mode toggle",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.BuildID)
	require.Equal(t, "queued", resp.Status)
}

func TestChatMessageHandler_RejectsInvalidMode(t *testing.T) {
	client := newTestClient(t)
	s := newTestServer(t, client)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/projects/proj-chat-3/messages", ChatMessageRequest{
		UserID: "user-1", ClientMsgID: "client-msg-3", Mode: "wat", Text: "hi",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
