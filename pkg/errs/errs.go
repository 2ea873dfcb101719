// Package errs defines the build-orchestration error taxonomy shared by every
// worker-plane component: a single kind-tagged error type plus the sentinel
// values components compare against with errors.Is.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind tags a BuildError with its place in the error taxonomy.
type Kind string

const (
	KindValidation Kind = "validation_error"
	KindAccessDenied Kind = "access_denied"
	KindProjectNotFound Kind = "project_not_found"
	KindSystemConfig Kind = "system_config_error"
	KindUsageLimit Kind = "usage_limit_exceeded"
	KindInsufficientFunds Kind = "insufficient_balance"
	KindAgentTimeout Kind = "agent_timeout"
	KindAgentError Kind = "agent_error"
	KindSchemaDrift Kind = "schema_drift"
	KindDeployFailed Kind = "deploy_failed"
	KindOperationTracking Kind = "operation_tracking_failed"
	KindStatusWriteFailed Kind = "status_write_failed"
	KindQueueEnqueue Kind = "queue_enqueue_failed"
)

// Retryable reports whether the queue runtime should retry a job that failed
// with this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindAgentTimeout, KindAgentError, KindDeployFailed:
		return true
	default:
		return false
	}
}

// TripsLimitController reports whether this kind should cause the
// LimitController to pause the queue in addition to failing the job.
func (k Kind) TripsLimitController() bool {
	return k == KindSystemConfig || k == KindUsageLimit
}

// BuildError is the single error type every component translates internal
// failures into before reporting them to the queue runtime.
type BuildError struct {
	Kind Kind
	Message string
	// ResetAt is set for KindUsageLimit; the queue should not be retried
	// until this time.
	ResetAt time.Time
	Err error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Is reports whether target is (or wraps) a *BuildError of the same Kind;
// Message and Err are not compared. Callers rarely need this; most code
// uses errors.As and inspects Kind directly.
func (e *BuildError) Is(target error) bool {
	var other *BuildError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs a BuildError of the given kind.
func New(kind Kind, message string) *BuildError {
	return &BuildError{Kind: kind, Message: message}
}

// Wrap constructs a BuildError of the given kind wrapping a lower-level error.
func Wrap(kind Kind, message string, err error) *BuildError {
	return &BuildError{Kind: kind, Message: message, Err: err}
}

// WithResetAt attaches a reset deadline (for usage-limit kinds) and returns
// the same error for chaining.
func (e *BuildError) WithResetAt(t time.Time) *BuildError {
	e.ResetAt = t
	return e
}

// Sentinel errors for queue and storage-level conditions that are checked
// with errors.Is rather than by Kind.
var (
	// ErrNoJobsAvailable indicates no claimable job was found for a queue.
	ErrNoJobsAvailable = errors.New("no jobs available")
	// ErrAtCapacity indicates the global concurrent-session limit is reached.
	ErrAtCapacity = errors.New("at capacity")
	// ErrDuplicateOperation indicates a BuildOperation row already exists for
	// (projectId, operationId); this is a first-class success path, not a
	// failure, when the caller is retrying.
	ErrDuplicateOperation = errors.New("duplicate operation")
	// ErrDuplicateAssistantReply indicates the storage layer rejected a
	// second assistant Message for the same (projectId, parentMessageID).
	ErrDuplicateAssistantReply = errors.New("duplicate assistant reply")
	// ErrSessionNotFound indicates the upstream agent reported that a
	// previousSessionId is unknown; the supervisor falls back to a fresh
	// session transparently.
	ErrSessionNotFound = errors.New("agent session not found")
	// ErrQueuePaused indicates a dispatch attempt found the queue paused.
	ErrQueuePaused = errors.New("queue paused")
	// ErrUnrecoverable wraps a handler-reported unrecoverable failure; the
	// queue runtime must not retry a job failing with this.
	ErrUnrecoverable = errors.New("unrecoverable")
)

// IsUnrecoverable reports whether err represents a failure kind the queue
// runtime must not retry — either a BuildError whose Kind is non-retryable,
// or ErrUnrecoverable itself.
func IsUnrecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnrecoverable) {
		return true
	}
	var be *BuildError
	if errors.As(err, &be) {
		return !be.Kind.Retryable()
	}
	return false
}
