package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/forgelabs/buildworker/pkg/config"
	"github.com/forgelabs/buildworker/pkg/models"
	"github.com/forgelabs/buildworker/pkg/store"
)

// newTestClient boots a disposable Postgres container and a migrated Client
// against it, using the testcontainers-go integration-test convention.
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

func TestProjectLifecycleTransitions(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-1", "user-1"))
	require.NoError(t, client.Builds().Create(ctx, "build-1", "proj-1"))

	buildID := "build-1"
	require.NoError(t, client.Projects().TransitionStatus(ctx, "proj-1", "queued", &buildID))

	require.NoError(t, client.Projects().MarkBuilding(ctx, "proj-1"))
	got, err := client.Projects().Get(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, "building", string(got.Status))
	require.NotNil(t, got.LastBuildStarted)
	require.Nil(t, got.LastBuildCompleted)
}

func TestBuildOperationIdempotency(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-2", "user-1"))
	require.NoError(t, client.Builds().Create(ctx, "build-2", "proj-2"))

	_, won1, err := client.Operations().InsertIfAbsent(ctx, "proj-2", "op-42", "build-2", "version-2")
	require.NoError(t, err)
	require.True(t, won1)

	// A second insert attempt with a *different* candidate buildId must not
	// win — the existing mapping is returned instead.
	row, won2, err := client.Operations().InsertIfAbsent(ctx, "proj-2", "op-42", "build-other", "version-other")
	require.NoError(t, err)
	require.False(t, won2)
	require.Equal(t, "build-2", row.BuildID)
}

func TestMessageDuplicateAssistantReply(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-3", "user-1"))

	parentID := "msg-parent"
	seq1, err := client.Messages().NextSeq(ctx)
	require.NoError(t, err)

	err = client.Messages().Insert(ctx, &models.Message{
		ID: "m1", ProjectID: "proj-3", Seq: seq1,
		ActorType: models.ActorAssistant, Mode: models.ModeBuild, ParentMessageID: &parentID,
	})
	require.NoError(t, err)

	seq2, err := client.Messages().NextSeq(ctx)
	require.NoError(t, err)
	err = client.Messages().Insert(ctx, &models.Message{
		ID: "m2", ProjectID: "proj-3", Seq: seq2,
		ActorType: models.ActorAssistant, Mode: models.ModeBuild, ParentMessageID: &parentID,
	})
	require.Error(t, err)
}
