package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/events"
	"github.com/forgelabs/buildworker/pkg/queue"
	"github.com/forgelabs/buildworker/pkg/store"
)

// Deployer publishes a completed build's artifact and resolves its runtime
// lane. The concrete provider (Cloudflare Pages, a container registry, ...)
// is out of scope here; DeployWorker only owns the Project/Build
// bookkeeping around whatever Deployer.Deploy does.
type Deployer interface {
	Deploy(ctx context.Context, buildID, versionID, projectPath string) (previewURL, lane string, err error)
}

// DeployWorker is stage three: publish the artifact Deployer produces, then
// transition Project to deployed or failed. It never creates or deletes
// Version rows — Version is owned exclusively by StreamWorker.
type DeployWorker struct {
	projects  *store.ProjectStore
	builds    *store.BuildStore
	publisher *events.EventPublisher
	deployer  Deployer
}

// NewDeployWorker wires a DeployWorker against its collaborators.
func NewDeployWorker(projects *store.ProjectStore, builds *store.BuildStore, publisher *events.EventPublisher, deployer Deployer) *DeployWorker {
	return &DeployWorker{projects: projects, builds: builds, publisher: publisher, deployer: deployer}
}

var _ queue.JobHandler = (*DeployWorker)(nil)

// Handle implements queue.JobHandler.
func (w *DeployWorker) Handle(ctx context.Context, job *queue.Job) error {
	var payload DeployJobPayload
	if err := decodePayload(job, &payload); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrUnrecoverable, err)
	}

	build, err := w.builds.Get(ctx, payload.BuildID)
	if err != nil {
		return fmt.Errorf("%w: %v", queue.ErrUnrecoverable, err)
	}

	previewURL, lane, deployErr := w.deployer.Deploy(ctx, payload.BuildID, payload.VersionID, payload.ProjectPath)
	if deployErr != nil {
		classified := errs.Wrap(errs.KindDeployFailed, "deploy", deployErr)
		if job.Attempt < job.MaxAttempts {
			// KindDeployFailed is retryable — burn a retry instead of
			// spending the Project/Build terminal transition on the first
			// failed attempt.
			if err := w.builds.SetLastError(ctx, payload.BuildID, classified.Error()); err != nil {
				slog.Warn("failed to record last error on build", "build_id", payload.BuildID, "error", err)
			}
			return classified
		}

		if err := w.projects.MarkFailed(ctx, build.ProjectID); err != nil {
			slog.Error("failed to mark project failed after deploy failure", "project_id", build.ProjectID, "error", err)
		}
		if err := w.builds.MarkFailed(ctx, payload.BuildID); err != nil {
			slog.Error("failed to mark build failed after deploy failure", "build_id", payload.BuildID, "error", err)
		}
		if err := w.publisher.PublishBuildLifecycle(ctx, build.ProjectID, events.BuildLifecyclePayload{
			Type:      events.EventTypeBuildFailed,
			ProjectID: build.ProjectID,
			BuildID:   payload.BuildID,
			VersionID: payload.VersionID,
			ErrorType: string(errs.KindDeployFailed),
			Message:   deployErr.Error(),
			Attempt:   job.Attempt,
			Timestamp: time.Now().Format(time.RFC3339Nano),
			CorrelationID: payload.CorrelationID,
		}); err != nil {
			slog.Error("failed to publish build_failed event", "build_id", payload.BuildID, "error", err)
		}
		return fmt.Errorf("%w: %v", queue.ErrUnrecoverable, classified)
	}

	if err := w.projects.MarkDeployed(ctx, build.ProjectID, previewURL, lane); err != nil {
		return err
	}
	if err := w.publisher.PublishBuildLifecycle(ctx, build.ProjectID, events.BuildLifecyclePayload{
		Type:      events.EventTypeBuildCompleted,
		ProjectID: build.ProjectID,
		BuildID:   payload.BuildID,
		VersionID: payload.VersionID,
		Timestamp: time.Now().Format(time.RFC3339Nano),
		CorrelationID: payload.CorrelationID,
	}); err != nil {
		slog.Error("failed to publish deploy build_completed event", "build_id", payload.BuildID, "error", err)
	}
	return nil
}
