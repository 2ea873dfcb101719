package pipeline_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgelabs/buildworker/pkg/agent"
	"github.com/forgelabs/buildworker/pkg/agent/agenttest"
	"github.com/forgelabs/buildworker/pkg/events"
	"github.com/forgelabs/buildworker/pkg/models"
	"github.com/forgelabs/buildworker/pkg/pipeline"
	"github.com/forgelabs/buildworker/pkg/queue"
)

func newMetadataJob(payload pipeline.MetadataJobPayload) *queue.Job {
	return &queue.Job{Payload: map[string]any{
		"project_id":       payload.ProjectID,
		"build_id":         payload.BuildID,
		"version_id":       payload.VersionID,
		"session_id":       payload.SessionID,
		"project_path":     payload.ProjectPath,
		"is_initial_build": payload.IsInitialBuild,
	}}
}

func TestMetadataWorker_PersistsRecommendationsAndSemverBump(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-meta-1", "user-1"))
	require.NoError(t, client.Builds().Create(ctx, "build-meta-1", "proj-meta-1"))
	require.NoError(t, client.Versions().Create(ctx, &models.Version{
		ID: "version-meta-1", ProjectID: "proj-meta-1", BuildID: "build-meta-1",
		ChangeType: models.ChangeMajor, DisplayName: "v1", SessionID: "sess-1",
	}))

	scripted := agenttest.NewScripted(agenttest.ScriptedCall{
		Result: &agent.Result{
			Success: true, SessionID: "sess-1",
			Stdout: `{"summary": "looks good", "items": [{"title": "Add tests", "description": "more coverage", "category": "quality"}], "version": {"change_type": "minor"}}`,
		},
	})

	worker := pipeline.NewMetadataWorker(
		client.Projects(), client.Versions(), client.Recommendations(),
		events.NewEventPublisher(client.DB()), scripted, false,
	)

	job := newMetadataJob(pipeline.MetadataJobPayload{
		ProjectID: "proj-meta-1", BuildID: "build-meta-1", VersionID: "version-meta-1",
		SessionID: "sess-1", ProjectPath: t.TempDir(),
	})
	require.NoError(t, worker.Handle(ctx, job))

	exists, err := client.Recommendations().Exists(ctx, "build-meta-1")
	require.NoError(t, err)
	require.True(t, exists)

	version, err := client.Versions().Get(ctx, "version-meta-1")
	require.NoError(t, err)
	require.Equal(t, models.ChangeMinor, version.ChangeType)
	require.Equal(t, "v1", version.DisplayName)
	require.Equal(t, 0, version.Major)
	require.Equal(t, 1, version.Minor)
}

func TestMetadataWorker_SkipsRecommendationsWhenAlreadyPresent(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-meta-2", "user-1"))
	require.NoError(t, client.Builds().Create(ctx, "build-meta-2", "proj-meta-2"))
	require.NoError(t, client.Versions().Create(ctx, &models.Version{
		ID: "version-meta-2", ProjectID: "proj-meta-2", BuildID: "build-meta-2",
		ChangeType: models.ChangeMajor, DisplayName: "v1", SessionID: "sess-2",
	}))
	require.NoError(t, client.Recommendations().Create(ctx, "build-meta-2", "proj-meta-2", []byte(`{"summary":"already done"}`)))

	scripted := agenttest.NewScripted()
	worker := pipeline.NewMetadataWorker(
		client.Projects(), client.Versions(), client.Recommendations(),
		events.NewEventPublisher(client.DB()), scripted, false,
	)

	job := newMetadataJob(pipeline.MetadataJobPayload{
		ProjectID: "proj-meta-2", BuildID: "build-meta-2", VersionID: "version-meta-2",
		SessionID: "sess-2", ProjectPath: t.TempDir(),
	})
	require.NoError(t, worker.Handle(ctx, job))

	require.Equal(t, 0, scripted.CallCount())

	version, err := client.Versions().Get(ctx, "version-meta-2")
	require.NoError(t, err)
	require.Equal(t, models.ChangeMajor, version.ChangeType)
}

func TestMetadataWorker_SchemaDriftIsAdvisoryNotFatal(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-meta-3", "user-1"))
	require.NoError(t, client.Builds().Create(ctx, "build-meta-3", "proj-meta-3"))
	require.NoError(t, client.Versions().Create(ctx, &models.Version{
		ID: "version-meta-3", ProjectID: "proj-meta-3", BuildID: "build-meta-3",
		ChangeType: models.ChangeMajor, DisplayName: "v1", SessionID: "sess-3",
	}))

	scripted := agenttest.NewScripted(agenttest.ScriptedCall{
		Result: &agent.Result{Success: true, SessionID: "sess-3", Stdout: `not valid json`},
	})
	worker := pipeline.NewMetadataWorker(
		client.Projects(), client.Versions(), client.Recommendations(),
		events.NewEventPublisher(client.DB()), scripted, false,
	)

	job := newMetadataJob(pipeline.MetadataJobPayload{
		ProjectID: "proj-meta-3", BuildID: "build-meta-3", VersionID: "version-meta-3",
		SessionID: "sess-3", ProjectPath: t.TempDir(),
	})
	require.NoError(t, worker.Handle(ctx, job))

	exists, err := client.Recommendations().Exists(ctx, "build-meta-3")
	require.NoError(t, err)
	require.False(t, exists)

	version, err := client.Versions().Get(ctx, "version-meta-3")
	require.NoError(t, err)
	require.Equal(t, models.ChangeMajor, version.ChangeType)
}

func TestMetadataWorker_InitialBuildWritesDocumentation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Projects().EnsureExists(ctx, "proj-meta-4", "user-1"))
	require.NoError(t, client.Builds().Create(ctx, "build-meta-4", "proj-meta-4"))
	require.NoError(t, client.Versions().Create(ctx, &models.Version{
		ID: "version-meta-4", ProjectID: "proj-meta-4", BuildID: "build-meta-4",
		ChangeType: models.ChangeMajor, DisplayName: "v1", SessionID: "sess-4",
	}))

	scripted := agenttest.NewScripted(
		agenttest.ScriptedCall{Result: &agent.Result{
			Success: true, SessionID: "sess-4",
			Stdout: `{"summary": "ok", "items": [], "version": {"change_type": "patch"}}`,
		}},
		agenttest.ScriptedCall{Result: &agent.Result{Success: true, SessionID: "sess-4", Stdout: "# My Project\n\nIt does things."}},
	)
	worker := pipeline.NewMetadataWorker(
		client.Projects(), client.Versions(), client.Recommendations(),
		events.NewEventPublisher(client.DB()), scripted, false,
	)

	projectPath := t.TempDir()
	job := newMetadataJob(pipeline.MetadataJobPayload{
		ProjectID: "proj-meta-4", BuildID: "build-meta-4", VersionID: "version-meta-4",
		SessionID: "sess-4", ProjectPath: projectPath, IsInitialBuild: true,
	})
	require.NoError(t, worker.Handle(ctx, job))
	require.Equal(t, 2, scripted.CallCount())

	data, err := os.ReadFile(projectPath + "/PROJECT_INFO.md")
	require.NoError(t, err)
	require.Contains(t, string(data), "My Project")
}
