package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/forgelabs/buildworker/pkg/accounting"
	"github.com/forgelabs/buildworker/pkg/agent"
	"github.com/forgelabs/buildworker/pkg/config"
	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/events"
	"github.com/forgelabs/buildworker/pkg/limiter"
	"github.com/forgelabs/buildworker/pkg/metadata"
	"github.com/forgelabs/buildworker/pkg/models"
	"github.com/forgelabs/buildworker/pkg/queue"
	"github.com/forgelabs/buildworker/pkg/store"
)

// metadataDirName is the hidden per-project directory StreamWorker keeps
// its own bookkeeping in — listed in the project's own .gitignore so the
// generated app never ships it.
const metadataDirName = ".buildworker"

// StreamWorker drives one (projectId, buildId, attempt) through the
// code-generation agent to ai_completed, then hands off to the metadata and
// deploy stages.
type StreamWorker struct {
	projects *store.ProjectStore
	builds *store.BuildStore
	checkpoints *store.CheckpointStore
	agentSessions *store.AgentSessionStore
	versions *store.VersionStore
	queue *queue.QueueRuntime
	publisher *events.EventPublisher
	limits *limiter.LimitController
	accounting *accounting.Client
	breaker *limiter.UpstreamBreaker
	supervisor agent.Supervisor
	cfg *config.WorkerConfig
}

// NewStreamWorker wires a StreamWorker against every collaborator its
// 11-step algorithm touches.
func NewStreamWorker(
	projects *store.ProjectStore,
	builds *store.BuildStore,
	checkpoints *store.CheckpointStore,
	agentSessions *store.AgentSessionStore,
	versions *store.VersionStore,
	q *queue.QueueRuntime,
	publisher *events.EventPublisher,
	limits *limiter.LimitController,
	acct *accounting.Client,
	supervisor agent.Supervisor,
	cfg *config.WorkerConfig,
) *StreamWorker {
	return &StreamWorker{
		projects: projects, builds: builds, checkpoints: checkpoints,
		agentSessions: agentSessions, versions: versions, queue: q,
		publisher: publisher, limits: limits, accounting: acct,
		breaker: limiter.NewUpstreamBreaker("accounting-preflight"),
		supervisor: supervisor, cfg: cfg,
	}
}

var _ queue.JobHandler = (*StreamWorker)(nil)

// Handle implements queue.JobHandler.
func (w *StreamWorker) Handle(ctx context.Context, job *queue.Job) error {
	var payload StreamJobPayload
	if err := decodePayload(job, &payload); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrUnrecoverable, err)
	}

	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}
	maxAttempts := job.MaxAttempts

	// Step 1: mark building, verify by read-back.
	if err := w.projects.MarkBuilding(ctx, payload.ProjectID); err != nil {
		return err
	}

	// Step 2: ensure working directory and hidden metadata directory.
	if err := ensureProjectDirs(payload.ProjectPath); err != nil {
		return w.fail(ctx, payload, attempt, maxAttempts, errs.Wrap(errs.KindSystemConfig, "prepare project directory", err))
	}

	// Step 3: gather retry context.
	existingFiles, lastError := w.retryContext(ctx, payload, attempt)
	tmpl := agent.SelectTemplate(payload.IsInitialBuild, attempt, len(existingFiles) > 0)
	prompt := agent.BuildPrompt(tmpl, payload.Prompt, lastError, existingFiles)

	// Step 4: pre-flight — agent binary + global rate limit.
	if _, err := os.Stat(w.cfg.AgentBinaryPath); err != nil {
		return w.fail(ctx, payload, attempt, maxAttempts, errs.Wrap(errs.KindSystemConfig, "agent binary not accessible", err))
	}
	limitState, err := w.limits.Status(ctx)
	if err != nil || limitState.Active {
		reason := "rate limit active"
		if limitState != nil && limitState.Reason != "" {
			reason = limitState.Reason
		}
		be := errs.New(errs.KindUsageLimit, reason)
		if limitState != nil && limitState.ResetAt != nil {
			be = be.WithResetAt(*limitState.ResetAt)
		}
		return w.fail(ctx, payload, attempt, maxAttempts, be)
	}

	// Step 5: accounting pre-flight (behind the upstream circuit breaker)
	// and begin.
	if err := w.breaker.Execute(ctx, func(ctx context.Context) error {
		return w.accounting.PreflightCheck(ctx, payload.UserID)
	}); err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = errs.New(errs.KindSystemConfig, "accounting service circuit open: "+err.Error())
		}
		return w.fail(ctx, payload, attempt, maxAttempts, err)
	}
	if err := w.accounting.Begin(ctx, payload.BuildID, payload.UserID); err != nil {
		var be *errs.BuildError
		if !errors.As(err, &be) {
			be = errs.Wrap(errs.KindSystemConfig, "begin accounting meter", err)
		}
		return w.fail(ctx, payload, attempt, maxAttempts, be)
	}

	timeout := w.cfg.InitialAttemptTimeout
	if attempt > 1 {
		timeout = w.cfg.RetryAttemptTimeout
	}
	runOpts := agent.RunOptions{
		BinaryPath: w.cfg.AgentBinaryPath,
		Cwd: payload.ProjectPath,
		Prompt: prompt,
		Timeout: timeout,
		KillGrace: w.cfg.KillGracePeriod,
	}

	placeholderID := "spawning:" + payload.BuildID
	if err := w.agentSessions.Spawn(ctx, placeholderID, payload.BuildID, payload.ProjectID, attempt); err != nil {
		slog.Warn("failed to record agent session spawn", "build_id", payload.BuildID, "error", err)
	}

	// Step 6/7: supervise the agent, resuming the prior session when one is
	// known and this isn't an initial build.
	result, runErr := w.run(ctx, payload, runOpts)
	settleErr := w.accounting.End(ctx, payload.BuildID, runErr == nil && result != nil && result.Success)
	if settleErr != nil {
		slog.Error("accounting end call failed", "build_id", payload.BuildID, "error", settleErr)
	}

	if result != nil && result.SessionID != "" {
		if err := w.agentSessions.Learn(ctx, placeholderID, result.SessionID); err != nil {
			slog.Warn("failed to learn agent session id", "build_id", payload.BuildID, "error", err)
		}
		if err := w.builds.SetSessionID(ctx, payload.BuildID, result.SessionID); err != nil {
			slog.Warn("failed to patch build session id", "build_id", payload.BuildID, "error", err)
		}
	}

	if runErr != nil {
		return w.handleRunFailure(ctx, payload, attempt, maxAttempts, result, runErr)
	}

	// Step 8: checkpoint.
	files, scanErr := listExistingFiles(payload.ProjectPath)
	if scanErr != nil {
		slog.Warn("failed to scan project directory for checkpoint", "build_id", payload.BuildID, "error", scanErr)
	}
	if err := w.checkpoints.Upsert(ctx, &models.Checkpoint{
		BuildID: payload.BuildID,
		SessionID: result.SessionID,
		ExistingFiles: files,
		TokensUsed: result.Tokens,
		CostCents: result.CostCents,
	}); err != nil {
		slog.Warn("failed to persist checkpoint", "build_id", payload.BuildID, "error", err)
	}
	if err := w.projects.SetLastAgentSessionID(ctx, payload.ProjectID, result.SessionID); err != nil {
		slog.Warn("failed to record last agent session id on project", "project_id", payload.ProjectID, "error", err)
	}
	if err := w.agentSessions.SetStatus(ctx, result.SessionID, string(models.SessionComplete), true); err != nil {
		slog.Warn("failed to mark agent session complete", "session_id", result.SessionID, "error", err)
	}

	// Step 9: validate file placement.
	validateFilePlacement(payload.ProjectPath)

	// Step 10: commit success.
	changeType := models.ChangeMinor
	if payload.IsInitialBuild {
		changeType = models.ChangeMajor
	}
	versionCount, err := w.versions.CountForProject(ctx, payload.ProjectID)
	if err != nil {
		slog.Warn("failed to count existing versions", "project_id", payload.ProjectID, "error", err)
	}
	version := &models.Version{
		ID: payload.VersionID,
		ProjectID: payload.ProjectID,
		BuildID: payload.BuildID,
		ChangeType: changeType,
		DisplayName: metadata.OrdinalDisplayName(versionCount + 1),
		SessionID: result.SessionID,
	}
	if err := w.versions.Create(ctx, version); err != nil {
		return w.fail(ctx, payload, attempt, maxAttempts, errs.Wrap(errs.KindStatusWriteFailed, "create version", err))
	}
	if err := w.projects.SetCurrentVersion(ctx, payload.ProjectID, payload.VersionID); err != nil {
		slog.Warn("failed to set project's current version", "project_id", payload.ProjectID, "error", err)
	}
	if err := w.builds.MarkAICompleted(ctx, payload.BuildID); err != nil {
		return w.fail(ctx, payload, attempt, maxAttempts, errs.Wrap(errs.KindStatusWriteFailed, "mark build ai_completed", err))
	}

	now := time.Now()
	if err := w.publisher.PublishBuildLifecycle(ctx, payload.ProjectID, events.BuildLifecyclePayload{
		Type: events.EventTypeBuildCompleted,
		ProjectID: payload.ProjectID,
		BuildID: payload.BuildID,
		VersionID: payload.VersionID,
		Timestamp: now.Format(time.RFC3339Nano),
		CorrelationID: payload.CorrelationID,
	}); err != nil {
		slog.Error("failed to publish build_completed event", "build_id", payload.BuildID, "error", err)
	}

	// Step 11: handoff to metadata and deploy stages, with the mock-session
	// bypass skipping the deploy handoff entirely.
	if agent.IsMockSession(result.SessionID, w.cfg.MockSessionPrefix) {
		slog.Info("mock session detected, skipping deploy handoff", "build_id", payload.BuildID, "session_id", result.SessionID)
		if err := w.projects.MarkDeployed(ctx, payload.ProjectID, mockPreviewURL(payload.ProjectID), "mock"); err != nil {
			slog.Warn("failed to record mock deployment", "project_id", payload.ProjectID, "error", err)
		}
	} else {
		if _, err := w.queue.Enqueue(ctx, DeployQueue, "deploy:"+payload.BuildID, "deploy", DeployJobPayload{
			BuildID: payload.BuildID,
			VersionID: payload.VersionID,
			ProjectPath: payload.ProjectPath,
			CorrelationID: payload.CorrelationID,
		}, queue.EnqueueOptions{MaxAttempts: 3}); err != nil {
			slog.Error("failed to enqueue deploy job", "build_id", payload.BuildID, "error", err)
		}
	}

	if _, err := w.queue.Enqueue(ctx, MetadataQueue, "metadata:"+payload.BuildID, "metadata", MetadataJobPayload{
		ProjectID: payload.ProjectID,
		BuildID: payload.BuildID,
		VersionID: payload.VersionID,
		SessionID: result.SessionID,
		ProjectPath: payload.ProjectPath,
		IsInitialBuild: payload.IsInitialBuild,
		CorrelationID: payload.CorrelationID,
	}, queue.EnqueueOptions{MaxAttempts: 3}); err != nil {
		slog.Error("failed to enqueue metadata job", "build_id", payload.BuildID, "error", err)
	}

	return nil
}

// run chooses between Resume (continuing a known prior session on a
// non-initial build) and a fresh Run.
func (w *StreamWorker) run(ctx context.Context, payload StreamJobPayload, opts agent.RunOptions) (*agent.Result, error) {
	if payload.PreviousSessionID != "" && !payload.IsInitialBuild {
		return w.supervisor.Resume(ctx, payload.PreviousSessionID, opts)
	}
	return w.supervisor.Run(ctx, opts)
}

// retryContext implements step 3: on a retry, prefer the last Checkpoint's
// file list; fall back to a directory scan when no checkpoint exists yet.
func (w *StreamWorker) retryContext(ctx context.Context, payload StreamJobPayload, attempt int) (existingFiles []string, lastError string) {
	if attempt <= 1 {
		return nil, ""
	}
	build, err := w.builds.Get(ctx, payload.BuildID)
	if err == nil {
		lastError = build.LastError
	}
	if cp, err := w.checkpoints.Get(ctx, payload.BuildID); err == nil && cp != nil {
		return cp.ExistingFiles, lastError
	}
	files, err := listExistingFiles(payload.ProjectPath)
	if err != nil {
		slog.Warn("failed to scan project directory for retry context", "build_id", payload.BuildID, "error", err)
	}
	return files, lastError
}

// handleRunFailure classifies a run error per the failure-classification
// table and routes it through fail, tripping LimitController first when the
// kind calls for it.
func (w *StreamWorker) handleRunFailure(ctx context.Context, payload StreamJobPayload, attempt, maxAttempts int, result *agent.Result, runErr error) error {
	var be *errs.BuildError
	if !errors.As(runErr, &be) {
		be = errs.Wrap(errs.KindAgentError, "agent run failed", runErr)
	}
	if be.Kind.TripsLimitController() {
		var resetAt *time.Time
		if !be.ResetAt.IsZero() {
			resetAt = &be.ResetAt
		}
		if err := w.limits.Trip(ctx, be.Message, resetAt); err != nil {
			slog.Error("failed to trip limit controller", "error", err)
		}
	}
	if result != nil && result.TimedOut {
		be = errs.New(errs.KindAgentTimeout, be.Message)
	}
	return w.fail(ctx, payload, attempt, maxAttempts, be)
}

// fail records the attempt's failure text, publishes build_failed on
// terminal kinds, and returns the classified error for QueueRuntime to act
// on (retry or stop). A kind the failure-classification table marks
// unrecoverable is terminal immediately; a retryable kind (agent_timeout,
// agent_error) is only terminal once this was the last attempt the queue
// would have granted it — otherwise QueueRuntime's own retry path is left to
// burn the remaining budget instead of this call preempting it.
func (w *StreamWorker) fail(ctx context.Context, payload StreamJobPayload, attempt, maxAttempts int, cause error) error {
	if err := w.builds.SetLastError(ctx, payload.BuildID, cause.Error()); err != nil {
		slog.Warn("failed to record last error on build", "build_id", payload.BuildID, "error", err)
	}

	terminal := errs.IsUnrecoverable(cause) || (maxAttempts > 0 && attempt >= maxAttempts)
	if terminal {
		if err := w.builds.MarkFailed(ctx, payload.BuildID); err != nil {
			slog.Error("failed to mark build failed", "build_id", payload.BuildID, "error", err)
		}
		if err := w.projects.MarkFailed(ctx, payload.ProjectID); err != nil {
			slog.Error("failed to mark project failed", "project_id", payload.ProjectID, "error", err)
		}
		if err := w.publisher.PublishBuildLifecycle(ctx, payload.ProjectID, events.BuildLifecyclePayload{
			Type: events.EventTypeBuildFailed,
			ProjectID: payload.ProjectID,
			BuildID: payload.BuildID,
			ErrorType: errorKindOf(cause),
			Message: cause.Error(),
			Attempt: attempt,
			Timestamp: time.Now().Format(time.RFC3339Nano),
			CorrelationID: payload.CorrelationID,
		}); err != nil {
			slog.Error("failed to publish build_failed event", "build_id", payload.BuildID, "error", err)
		}
		return fmt.Errorf("%w: %v", queue.ErrUnrecoverable, cause)
	}
	return cause
}

func errorKindOf(err error) string {
	var be *errs.BuildError
	if errors.As(err, &be) {
		return string(be.Kind)
	}
	return "unknown"
}

func mockPreviewURL(projectID string) string {
	return "https://mock.preview.invalid/" + projectID
}

// ensureProjectDirs creates the project working directory and its hidden
// metadata directory, and makes sure the project's own ignore file excludes
// the metadata directory from whatever the agent commits.
func ensureProjectDirs(projectPath string) error {
	if err := os.MkdirAll(projectPath, 0o755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}
	metaDir := filepath.Join(projectPath, metadataDirName)
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}
	return ensureIgnored(projectPath, metadataDirName)
}

// ensureIgnored appends metadataDirName to the project's .gitignore if it
// isn't already listed there.
func ensureIgnored(projectPath, entry string) error {
	path := filepath.Join(projectPath, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read .gitignore: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == entry {
			return nil
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open .gitignore: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(entry + "\n")
	return err
}

// listExistingFiles returns every regular file under projectPath, relative
// to it, skipping the hidden metadata directory.
func listExistingFiles(projectPath string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(projectPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(projectPath, path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if rel == metadataDirName || strings.HasPrefix(rel, metadataDirName+string(filepath.Separator)) {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// forbiddenFilePatterns names the "system/worker" paths that must never be
// moved or overwritten, however a generated project's output is reshuffled.
var forbiddenFilePatterns = []string{metadataDirName, "cmd/worker", "pkg/pipeline", "pkg/queue"}

// validateFilePlacement walks the project tree for symlinks whose target
// resolves outside it and logs a warning for each — a security event when
// the target matches a forbidden system/worker pattern. It moves nothing.
func validateFilePlacement(projectPath string) {
	_ = filepath.WalkDir(projectPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, statErr := os.Lstat(path)
		if statErr != nil || info.Mode()&os.ModeSymlink == 0 {
			return nil
		}
		target, readErr := os.Readlink(path)
		if readErr != nil {
			return nil
		}
		resolved := target
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(filepath.Dir(path), target)
		}
		if !strings.HasPrefix(resolved, projectPath) {
			rel, _ := filepath.Rel(projectPath, path)
			for _, pattern := range forbiddenFilePatterns {
				if strings.Contains(resolved, pattern) {
					slog.Warn("security: generated project attempted to place a file outside its tree", "path", rel, "target", resolved)
					return nil
				}
			}
			slog.Warn("generated project contains a symlink escaping its tree", "path", rel, "target", resolved)
		}
		return nil
	})
}
