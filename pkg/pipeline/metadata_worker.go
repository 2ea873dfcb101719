package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/forgelabs/buildworker/pkg/agent"
	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/events"
	"github.com/forgelabs/buildworker/pkg/metadata"
	"github.com/forgelabs/buildworker/pkg/queue"
	"github.com/forgelabs/buildworker/pkg/store"
)

// projectInfoFileName is the human-readable documentation file written on an
// initial build's metadata pass.
const projectInfoFileName = "PROJECT_INFO.md"

// recommendationsPrompt asks the agent to produce the recommendations.json
// schema pkg/metadata.ParseRecommendations validates.
const recommendationsPrompt = `Review the project you just generated and produce a JSON object with this
exact shape: {"summary": string, "items": [{"title": string, "description": string, "category": string}],
"version": {"change_type": "major"|"minor"|"patch"}}. Output only the JSON object, nothing else.`

// documentationPrompt asks the agent for a short human-readable project
// overview, written to disk verbatim rather than parsed.
const documentationPrompt = `Write a short Markdown document describing what this project does, how to run
it, and its main files. Output only the Markdown document, nothing else.`

// MetadataWorker re-enters the stream stage's agent session to produce
// recommendations and, on an initial build, project documentation, then
// finalizes version semantics. This stage is advisory: failures are logged
// and broadcast but never demote the owning Build from ai_completed.
type MetadataWorker struct {
	projects        *store.ProjectStore
	versions        *store.VersionStore
	recommendations *store.RecommendationStore
	publisher       *events.EventPublisher
	supervisor      agent.Supervisor
	compactSession  bool
}

// NewMetadataWorker wires a MetadataWorker against every collaborator its
// algorithm touches. compactSession mirrors
// config.WorkerConfig.CompactSessionOnMetadata. AgentSession is
// StreamWorker's exclusive domain, so MetadataWorker only reaches the
// Project row for continuity, never the agent_sessions table.
func NewMetadataWorker(
	projects *store.ProjectStore,
	versions *store.VersionStore,
	recommendations *store.RecommendationStore,
	publisher *events.EventPublisher,
	supervisor agent.Supervisor,
	compactSession bool,
) *MetadataWorker {
	return &MetadataWorker{
		projects: projects, versions: versions, recommendations: recommendations,
		publisher: publisher, supervisor: supervisor,
		compactSession: compactSession,
	}
}

var _ queue.JobHandler = (*MetadataWorker)(nil)

// Handle implements queue.JobHandler.
func (w *MetadataWorker) Handle(ctx context.Context, job *queue.Job) error {
	var payload MetadataJobPayload
	if err := decodePayload(job, &payload); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrUnrecoverable, err)
	}

	// Step 1: skip the recommendations phase if another worker already
	// produced a record for this build.
	exists, err := w.recommendations.Exists(ctx, payload.BuildID)
	if err != nil {
		slog.Warn("failed to check for existing recommendations", "build_id", payload.BuildID, "error", err)
	}

	sessionID := payload.SessionID
	if !exists {
		newSessionID, recErr := w.produceRecommendations(ctx, payload)
		if recErr != nil {
			w.advise(ctx, payload, recErr)
		} else if newSessionID != "" {
			sessionID = newSessionID
		}
	}

	// Step 4: initial-build-only documentation pass, continuing the same
	// session.
	if payload.IsInitialBuild {
		if newSessionID, docErr := w.writeDocumentation(ctx, payload, sessionID); docErr != nil {
			slog.Warn("documentation pass failed, leaving build ai_completed", "build_id", payload.BuildID, "error", docErr)
		} else if newSessionID != "" {
			sessionID = newSessionID
		}
	}

	// Step 5: optional session compaction, then persist continuity id.
	if w.compactSession && sessionID != "" {
		if compacted, compactErr := w.supervisor.Resume(ctx, sessionID, agent.RunOptions{
			BinaryPath: "", Cwd: payload.ProjectPath, Prompt: "/compact", Timeout: 0,
		}); compactErr != nil {
			slog.Warn("session compaction failed, continuing with uncompacted session", "build_id", payload.BuildID, "error", compactErr)
		} else if compacted != nil && compacted.SessionID != "" {
			sessionID = compacted.SessionID
		}
	}
	if sessionID != "" {
		if err := w.projects.SetLastAgentSessionID(ctx, payload.ProjectID, sessionID); err != nil {
			slog.Warn("failed to persist continuity session id", "project_id", payload.ProjectID, "error", err)
		}
	}

	return nil
}

// produceRecommendations resumes the agent session with the recommendations
// prompt, validates the resulting record, and on success persists it and
// the version semantics it carries. Returns the (possibly new) session id.
func (w *MetadataWorker) produceRecommendations(ctx context.Context, payload MetadataJobPayload) (string, error) {
	result, err := w.supervisor.Resume(ctx, payload.SessionID, agent.RunOptions{
		Cwd: payload.ProjectPath, Prompt: recommendationsPrompt,
	})
	if err != nil {
		return "", errs.Wrap(errs.KindSchemaDrift, "resume session for recommendations", err)
	}
	if result == nil || !result.Success {
		msg := "agent run did not succeed"
		if result != nil {
			msg = firstNonEmpty(result.Stderr, msg)
		}
		return "", errs.New(errs.KindSchemaDrift, msg)
	}

	rec, err := metadata.ParseRecommendations([]byte(result.Stdout))
	if err != nil {
		return result.SessionID, err
	}

	raw, marshalErr := json.Marshal(rec)
	if marshalErr != nil {
		return result.SessionID, errs.Wrap(errs.KindSchemaDrift, "re-encode validated recommendations", marshalErr)
	}
	if err := w.recommendations.Create(ctx, payload.BuildID, payload.ProjectID, raw); err != nil {
		return result.SessionID, errs.Wrap(errs.KindStatusWriteFailed, "persist recommendations", err)
	}

	version, err := w.versions.Get(ctx, payload.VersionID)
	if err != nil {
		return result.SessionID, errs.Wrap(errs.KindStatusWriteFailed, "load version for semver bump", err)
	}
	major, minor, patch, semverErr := metadata.NextSemver(version.Major, version.Minor, version.Patch, rec.Version.ChangeType)
	if semverErr != nil {
		return result.SessionID, errs.Wrap(errs.KindSchemaDrift, "compute next semver", semverErr)
	}
	if err := w.versions.SetSemver(ctx, payload.VersionID, major, minor, patch, rec.Version.ChangeType); err != nil {
		return result.SessionID, errs.Wrap(errs.KindStatusWriteFailed, "persist semver bump", err)
	}

	return result.SessionID, nil
}

// writeDocumentation continues the session with a documentation prompt and
// writes the resulting text verbatim to the project's info file.
func (w *MetadataWorker) writeDocumentation(ctx context.Context, payload MetadataJobPayload, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("no session available to continue for documentation")
	}
	result, err := w.supervisor.Resume(ctx, sessionID, agent.RunOptions{
		Cwd: payload.ProjectPath, Prompt: documentationPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("resume session for documentation: %w", err)
	}
	if result == nil || !result.Success {
		return "", fmt.Errorf("documentation run did not succeed")
	}
	path := filepath.Join(payload.ProjectPath, projectInfoFileName)
	if err := os.WriteFile(path, []byte(result.Stdout), 0o644); err != nil {
		return result.SessionID, fmt.Errorf("write %s: %w", projectInfoFileName, err)
	}
	return result.SessionID, nil
}

// advise logs and broadcasts a recommendations_failed event. Per the
// metadata stage's failure policy this never demotes the Build from
// ai_completed.
func (w *MetadataWorker) advise(ctx context.Context, payload MetadataJobPayload, cause error) {
	var be *errs.BuildError
	reason := cause.Error()
	if errors.As(cause, &be) {
		reason = be.Message
	}
	slog.Warn("recommendations phase failed, build remains ai_completed", "build_id", payload.BuildID, "error", cause)
	if err := w.publisher.PublishRecommendationsFailed(ctx, payload.ProjectID, events.RecommendationsFailedPayload{
		Type:      events.EventTypeRecommendations,
		ProjectID: payload.ProjectID,
		BuildID:   payload.BuildID,
		Reason:    reason,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}); err != nil {
		slog.Error("failed to publish recommendations_failed event", "build_id", payload.BuildID, "error", err)
	}
}

func firstNonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
