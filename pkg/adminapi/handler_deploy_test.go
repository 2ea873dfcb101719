package adminapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgelabs/buildworker/pkg/models"
)

func TestCloudflareDeployCallbackHandler_SuccessMarksDeployed(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-cb-1", "user-1"))
	require.NoError(t, client.Builds().Create(ctx, "build-cb-1", "proj-cb-1"))

	s := newTestServer(t, client)

	rec := doJSON(t, s, http.MethodPost, "/callbacks/cloudflare-deploy", CloudflareDeployCallbackRequest{
		DeploymentID: "cf-deploy-1", BuildID: "build-cb-1", Status: "success", URL: "https://proj-cb-1.pages.dev",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	project, err := client.Projects().Get(ctx, "proj-cb-1")
	require.NoError(t, err)
	require.Equal(t, models.ProjectDeployed, project.Status)
}

func TestCloudflareDeployCallbackHandler_FailureMarksFailed(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-cb-2", "user-1"))
	require.NoError(t, client.Builds().Create(ctx, "build-cb-2", "proj-cb-2"))

	s := newTestServer(t, client)

	rec := doJSON(t, s, http.MethodPost, "/callbacks/cloudflare-deploy", CloudflareDeployCallbackRequest{
		DeploymentID: "cf-deploy-2", BuildID: "build-cb-2", Status: "failure",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	project, err := client.Projects().Get(ctx, "proj-cb-2")
	require.NoError(t, err)
	require.Equal(t, models.ProjectFailed, project.Status)
}

func TestCloudflareDeployCallbackHandler_UnknownBuildIsNotFound(t *testing.T) {
	client := newTestClient(t)
	s := newTestServer(t, client)

	rec := doJSON(t, s, http.MethodPost, "/callbacks/cloudflare-deploy", CloudflareDeployCallbackRequest{
		DeploymentID: "cf-deploy-3", BuildID: "does-not-exist", Status: "success",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
