package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/models"
	"github.com/forgelabs/buildworker/pkg/queue"
	"github.com/forgelabs/buildworker/pkg/store"
)

// StreamQueue and the downstream queue names StreamWorker hands off to.
const (
	StreamQueue = "build-stage-one"
	MetadataQueue = "metadata"
	DeployQueue = "deploy"
)

// InitiateOptions is the full set of inputs a caller (the admin API's
// CreateBuild handler, or a chat-driven follow-up build) supplies to start a
// build.
type InitiateOptions struct {
	UserID string
	ProjectID string
	Prompt string
	Framework string
	IsInitialBuild bool
	BaseVersionID string
	PreviousSessionID string
	// OperationID, when set, makes this call idempotent: a retried request
	// carrying the same OperationID always yields the same
	// (buildId, versionId, jobId) triple.
	OperationID string
	Source string
	// CorrelationID, when set, is threaded into every job payload and
	// published event this call and its downstream stages touch, so a log
	// line or event emitted anywhere in the pipeline can be traced back to
	// the inbound request that started it.
	CorrelationID string
}

// InitiateResult is BuildInitiator's return value.
type InitiateResult struct {
	BuildID string
	VersionID string
	JobID string
	Status string
	ProjectPath string
	Error string
}

// BuildInitiator translates a build request into a deterministic
// (buildId, versionId, jobId) triple, enforces operation-level idempotency,
// transitions Project to queued, and enqueues the stage-one job.
type BuildInitiator struct {
	client *store.Client
	projects *store.ProjectStore
	builds *store.BuildStore
	operations *store.OperationStore
	queue *queue.QueueRuntime
	baseDir string
}

// NewBuildInitiator wires a BuildInitiator against its storage and the
// queue runtime it enqueues onto. client is used to scope the candidate
// Build row and its BuildOperation dedup insert to one transaction.
func NewBuildInitiator(client *store.Client, projects *store.ProjectStore, builds *store.BuildStore, operations *store.OperationStore, q *queue.QueueRuntime, baseDir string) *BuildInitiator {
	return &BuildInitiator{client: client, projects: projects, builds: builds, operations: operations, queue: q, baseDir: baseDir}
}

// Initiate runs the five-step idempotent build-start algorithm.
func (b *BuildInitiator) Initiate(ctx context.Context, opts InitiateOptions) (*InitiateResult, error) {
	if _, err := b.projects.Get(ctx, opts.ProjectID); err != nil {
		return nil, err
	}

	projectPath := filepath.Join(b.baseDir, opts.UserID, opts.ProjectID)

	buildID := newID()
	versionID := newID()

	if opts.OperationID != "" {
		// The Build row must exist before BuildOperation can reference it
		// (FK), so the candidate is created inside the same transaction as
		// the dedup insert: if another call already owns this operationId,
		// the whole transaction rolls back and the candidate Build row never
		// commits, instead of being left behind as an orphan.
		tx, err := b.client.BeginTx(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.KindStatusWriteFailed, "begin build transaction", err)
		}

		if err := b.builds.CreateTx(ctx, tx, buildID, opts.ProjectID); err != nil {
			_ = tx.Rollback()
			return nil, errs.Wrap(errs.KindStatusWriteFailed, "create build row", err)
		}

		op, won, err := b.operations.InsertIfAbsentTx(ctx, tx, opts.ProjectID, opts.OperationID, buildID, versionID)
		if err != nil {
			_ = tx.Rollback()
			return nil, errs.Wrap(errs.KindOperationTracking, "record build operation", err)
		}
		if !won {
			// A prior call already owns this operationId. Roll back —
			// discarding the candidate Build row along with it — and return
			// the winner's mapping without any further writes.
			if err := tx.Rollback(); err != nil {
				slog.Warn("failed to roll back losing build candidate", "project_id", opts.ProjectID, "operation_id", opts.OperationID, "error", err)
			}
			return &InitiateResult{
				BuildID: op.BuildID,
				VersionID: op.VersionID,
				JobID: op.JobID,
				Status: "queued",
				ProjectPath: projectPath,
			}, nil
		}
		if err := tx.Commit(); err != nil {
			return nil, errs.Wrap(errs.KindStatusWriteFailed, "commit build transaction", err)
		}
		buildID = op.BuildID
		versionID = op.VersionID
	} else {
		if err := b.builds.Create(ctx, buildID, opts.ProjectID); err != nil {
			return nil, errs.Wrap(errs.KindStatusWriteFailed, "create build row", err)
		}
	}

	if err := b.projects.TransitionStatus(ctx, opts.ProjectID, models.ProjectQueued, &buildID); err != nil {
		return nil, err
	}

	jobKey := opts.OperationID
	if jobKey == "" {
		jobKey = buildID
	}
	jobID := "build:" + opts.ProjectID + ":" + jobKey

	payload := StreamJobPayload{
		ProjectID: opts.ProjectID,
		BuildID: buildID,
		VersionID: versionID,
		UserID: opts.UserID,
		Prompt: opts.Prompt,
		Framework: opts.Framework,
		IsInitialBuild: opts.IsInitialBuild,
		BaseVersionID: opts.BaseVersionID,
		PreviousSessionID: opts.PreviousSessionID,
		ProjectPath: projectPath,
		CorrelationID: opts.CorrelationID,
	}

	if _, err := b.queue.Enqueue(ctx, StreamQueue, jobID, "stream", payload, queue.EnqueueOptions{MaxAttempts: 3}); err != nil {
		if markErr := b.projects.MarkFailed(ctx, opts.ProjectID); markErr != nil {
			slog.Error("failed to mark project failed after enqueue failure", "project_id", opts.ProjectID, "error", markErr)
		}
		return &InitiateResult{
			BuildID: buildID,
			VersionID: versionID,
			Status: "queue_failed",
			ProjectPath: projectPath,
			Error: err.Error(),
		}, errs.Wrap(errs.KindQueueEnqueue, "enqueue stage-one job", err)
	}

	if opts.OperationID != "" {
		if err := b.operations.PatchJobID(ctx, opts.ProjectID, opts.OperationID, jobID); err != nil {
			slog.Warn("failed to patch build_operations.job_id, stage-one worker can still locate build by id", "project_id", opts.ProjectID, "operation_id", opts.OperationID, "error", err)
		}
	}

	return &InitiateResult{
		BuildID: buildID,
		VersionID: versionID,
		JobID: jobID,
		Status: "queued",
		ProjectPath: projectPath,
	}, nil
}

// StreamJobPayload is the stage-one job's payload shape, shared by
// BuildInitiator (producer) and StreamWorker (consumer).
type StreamJobPayload struct {
	ProjectID string `json:"project_id"`
	BuildID string `json:"build_id"`
	VersionID string `json:"version_id"`
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
	Framework string `json:"framework,omitempty"`
	IsInitialBuild bool `json:"is_initial_build"`
	BaseVersionID string `json:"base_version_id,omitempty"`
	PreviousSessionID string `json:"previous_session_id,omitempty"`
	ProjectPath string `json:"project_path"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// MetadataJobPayload is the metadata-stage job's payload shape.
type MetadataJobPayload struct {
	ProjectID string `json:"project_id"`
	BuildID string `json:"build_id"`
	VersionID string `json:"version_id"`
	SessionID string `json:"session_id,omitempty"`
	ProjectPath string `json:"project_path"`
	IsInitialBuild bool `json:"is_initial_build"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// DeployJobPayload is the deploy-stage job's payload shape.
type DeployJobPayload struct {
	BuildID string `json:"build_id"`
	VersionID string `json:"version_id"`
	ProjectPath string `json:"project_path"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
