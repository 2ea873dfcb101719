// Package queuemodel holds the Job value type and sentinel errors shared by
// pkg/store's JobStore and pkg/queue's QueueRuntime, split out to avoid a
// storage→runtime import cycle.
package queuemodel

import (
	"errors"
	"time"
)

// Status is a job's position in the queue state machine:
// waiting → active → {completed | failed(retrying) | failed(final) | unrecoverable}.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive Status = "active"
	StatusCompleted Status = "completed"
	StatusFailedFinal Status = "failed_final"
	StatusUnrecoverable Status = "unrecoverable"
)

// Job is a single unit of work dispatched by QueueRuntime.
type Job struct {
	ID string
	Queue string
	Name string
	Payload map[string]any
	Status Status
	Attempt int
	MaxAttempts int
	RunAt time.Time
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RepeatableJob is a cron-scheduled job definition with a stable
// (Queue, Name) identity.
type RepeatableJob struct {
	Queue string
	Name string
	CronExpr string
	Payload map[string]any
}

// Sentinel errors handled by Worker's poll loop: ErrNoJobsAvailable and
// ErrQueuePaused come from JobStore.Claim, ErrAtCapacity from Worker's own
// capacity check.
var (
	// ErrNoJobsAvailable indicates no waiting jobs are due in the queue.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrAtCapacity indicates the global concurrent-job limit has been reached.
	ErrAtCapacity = errors.New("at capacity")

	// ErrQueuePaused indicates the queue is administratively paused.
	ErrQueuePaused = errors.New("queue paused")
)

// ErrUnrecoverable, returned (wrapped) by a JobHandler, tells QueueRuntime to
// skip the retry/backoff path and move the job straight to "unrecoverable".
var ErrUnrecoverable = errors.New("unrecoverable job error")
