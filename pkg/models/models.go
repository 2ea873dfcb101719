// Package models holds the plain value types for the data model described
// Project, BuildOperation, Build, Version, AgentSession, Checkpoint,
// Message and RateLimitState. These are storage-agnostic; pkg/store maps
// them onto Postgres rows.
package models

import "time"

// ProjectStatus is the build_status enum.
type ProjectStatus string

const (
	ProjectQueued ProjectStatus = "queued"
	ProjectBuilding ProjectStatus = "building"
	ProjectDeployed ProjectStatus = "deployed"
	ProjectFailed ProjectStatus = "failed"
	ProjectCanceled ProjectStatus = "canceled"
	ProjectSuperseded ProjectStatus = "superseded"
	ProjectRollingBack ProjectStatus = "rollingBack"
	ProjectRollbackFailed ProjectStatus = "rollbackFailed"
)

// Project is the stable per-tenant identifier that owns at most one current
// build and one current version.
type Project struct {
	ID string
	OwnerUserID string
	Status ProjectStatus
	CurrentBuildID *string
	CurrentVersionID *string
	LastAgentSessionID *string
	LastBuildStarted *time.Time
	LastBuildCompleted *time.Time
	PreviewURL *string
	DeployLane *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BuildOperation is the (projectId, operationId) idempotency mapping.
// Uniqueness on (ProjectID, OperationID) is enforced at the storage layer.
type BuildOperation struct {
	ProjectID string
	OperationID string
	BuildID string
	VersionID string
	JobID string // patched in after enqueue; empty until then
	Status string
	CreatedAt time.Time
}

// BuildStatus is the Build.status enum.
type BuildStatus string

const (
	BuildStarted BuildStatus = "started"
	BuildAICompleted BuildStatus = "ai_completed"
	BuildDeployed BuildStatus = "deployed"
	BuildFailed BuildStatus = "failed"
)

// Build is identified by a UUID string minted by pipeline.newID; the ids
// are not lexicographically sortable.
type Build struct {
	ID string // UUID
	ProjectID string
	Status BuildStatus
	Attempt int // monotonically increasing, >= 1
	SessionID *string
	StartedAt time.Time
	CompletedAt *time.Time
	LastError string // last attempt's error text, carried into the next prompt
}

// ChangeType is the semver bump kind emitted by the agent at metadata time.
type ChangeType string

const (
	ChangeMajor ChangeType = "major"
	ChangeMinor ChangeType = "minor"
	ChangePatch ChangeType = "patch"
)

// Version is created only on successful agent session completion, never
// speculatively. DisplayName, once set to "vN", is never overwritten by a
// later semantic label (see DESIGN.md Open Question 1).
type Version struct {
	ID string
	ProjectID string
	BuildID string
	Major int
	Minor int
	Patch int
	ChangeType ChangeType
	DisplayName string // "v1", "v2",... or a promoted semantic label
	SessionID string
	CreatedAt time.Time
}

// AgentSessionStatus is the AgentSession lifecycle.
type AgentSessionStatus string

const (
	SessionSpawning AgentSessionStatus = "spawning"
	SessionRunning AgentSessionStatus = "running"
	SessionComplete AgentSessionStatus = "completed"
	SessionFailed AgentSessionStatus = "failed"
	SessionTimedOut AgentSessionStatus = "timed_out"
	SessionCanceled AgentSessionStatus = "cancelled"
)

// AgentSession is a supervised subprocess with a UUID session_id assigned by
// the agent itself and learned from the first event in its output stream.
type AgentSession struct {
	ID string // agent-assigned session id; a caller placeholder until learned
	BuildID string
	ProjectID string
	Status AgentSessionStatus
	Attempt int
	StartedAt time.Time
	EndedAt *time.Time
}

// Checkpoint is keyed by BuildID and written by StreamWorker between
// attempts; read by StreamWorker on retry.
type Checkpoint struct {
	BuildID string
	SessionID string
	ExistingFiles []string // files present at checkpoint time, not files the session created
	TokensUsed int64
	CostCents int64
	UpdatedAt time.Time
}

// ActorType is the Message.actor_type enum.
type ActorType string

const (
	ActorClient ActorType = "client"
	ActorAssistant ActorType = "assistant"
	ActorSystem ActorType = "system"
)

// MessageMode is the Message.mode enum.
type MessageMode string

const (
	ModePlan MessageMode = "plan"
	ModeBuild MessageMode = "build"
)

// Message is a row of the durable per-project timeline, keyed by
// (ProjectID, Seq) where Seq is a process-wide monotonic sequence allocated
// exclusively by EventBus.
type Message struct {
	ID string
	ProjectID string
	Seq int64
	ActorType ActorType
	Mode MessageMode
	ParentMessageID *string
	BuildID *string
	Text string
	ResponseData map[string]any
	CreatedAt time.Time
}

// RateLimitState is the global singleton record LimitController exclusively
// owns.
type RateLimitState struct {
	Active bool
	ResetAt *time.Time
	Reason string
}
