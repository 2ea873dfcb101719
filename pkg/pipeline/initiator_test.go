package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/forgelabs/buildworker/pkg/config"
	"github.com/forgelabs/buildworker/pkg/models"
	"github.com/forgelabs/buildworker/pkg/pipeline"
	"github.com/forgelabs/buildworker/pkg/queue"
	"github.com/forgelabs/buildworker/pkg/store"
)

func newTestClient(t *testing.T) *store.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("buildworker_test"),
		tcpostgres.WithUsername("buildworker"),
		tcpostgres.WithPassword("buildworker"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Host: host, Port: port.Int(), User: "buildworker", Password: "buildworker",
		Database: "buildworker_test", SSLMode: "disable",
		MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	}
	client, err := store.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestInitiator(t *testing.T) (*pipeline.BuildInitiator, *store.Client) {
	t.Helper()
	client := newTestClient(t)
	q := queue.NewQueueRuntime("test-pod", client.Jobs(), &config.QueueConfig{})
	initiator := pipeline.NewBuildInitiator(client, client.Projects(), client.Builds(), client.Operations(), q, "/var/lib/buildworker/projects")
	return initiator, client
}

func TestBuildInitiator_HappyPath(t *testing.T) {
	initiator, client := newTestInitiator(t)
	ctx := context.Background()

	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-1", "user-1"))

	result, err := initiator.Initiate(ctx, pipeline.InitiateOptions{
		UserID: "user-1",
		ProjectID: "proj-1",
		Prompt: "hello world",
		IsInitialBuild: true,
	})
	require.NoError(t, err)
	require.Equal(t, "queued", result.Status)
	require.NotEmpty(t, result.BuildID)
	require.NotEmpty(t, result.VersionID)
	require.Equal(t, "/var/lib/buildworker/projects/user-1/proj-1", result.ProjectPath)

	project, err := client.Projects().Get(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, models.ProjectQueued, project.Status)
	require.NotNil(t, project.CurrentBuildID)
	require.Equal(t, result.BuildID, *project.CurrentBuildID)
}

func TestBuildInitiator_DuplicateOperationIDReturnsSameMapping(t *testing.T) {
	initiator, client := newTestInitiator(t)
	ctx := context.Background()

	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-2", "user-1"))

	opts := pipeline.InitiateOptions{
		UserID: "user-1",
		ProjectID: "proj-2",
		Prompt: "hello world",
		OperationID: "op-123",
	}

	first, err := initiator.Initiate(ctx, opts)
	require.NoError(t, err)

	second, err := initiator.Initiate(ctx, opts)
	require.NoError(t, err)

	require.Equal(t, first.BuildID, second.BuildID)
	require.Equal(t, first.VersionID, second.VersionID)
	require.Equal(t, first.JobID, second.JobID)
}

func TestBuildInitiator_ProjectNotFound(t *testing.T) {
	initiator, _ := newTestInitiator(t)
	ctx := context.Background()

	_, err := initiator.Initiate(ctx, pipeline.InitiateOptions{
		UserID: "user-1",
		ProjectID: "does-not-exist",
		Prompt: "hello world",
	})
	require.Error(t, err)
}

func TestBuildInitiator_DeterministicJobID(t *testing.T) {
	initiator, client := newTestInitiator(t)
	ctx := context.Background()

	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-3", "user-1"))

	result, err := initiator.Initiate(ctx, pipeline.InitiateOptions{
		UserID: "user-1",
		ProjectID: "proj-3",
		Prompt: "hello world",
		OperationID: "op-abc",
	})
	require.NoError(t, err)
	require.Equal(t, "build:proj-3:op-abc", result.JobID)

	op, err := client.Operations().Get(ctx, "proj-3", "op-abc")
	require.NoError(t, err)
	require.Equal(t, result.JobID, op.JobID)
}
