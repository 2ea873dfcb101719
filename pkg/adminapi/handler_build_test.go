package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestCreateBuildHandler_EnqueuesAndReturnsAccepted(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-build-1", "user-1"))

	s := newTestServer(t, client)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/builds", CreateBuildRequest{
		UserID: "user-1", ProjectID: "proj-build-1", Prompt: "build me a todo app", IsInitialBuild: true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp BuildResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.BuildID)
	require.Equal(t, "queued", resp.Status)
}

func TestCreateBuildHandler_RejectsMissingPrompt(t *testing.T) {
	client := newTestClient(t)
	s := newTestServer(t, client)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/builds", CreateBuildRequest{
		UserID: "user-1", ProjectID: "proj-build-2",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBuildHandler_UnknownProjectReturnsNotFound(t *testing.T) {
	client := newTestClient(t)
	s := newTestServer(t, client)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/builds", CreateBuildRequest{
		UserID: "user-1", ProjectID: "does-not-exist", Prompt: "anything",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
