// Package events provides real-time progress delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-pod distribution, implementing the
// two surfaces per project channel:
//
// - Durable timeline: message.new / message.replay events carry an
// integer seq and a stable id; subscribers replay by last-seen seq.
// - Ephemeral events: typing, presence, progress, plan-in-progress
// chunks. These omit seq/id so a subscriber's "last-event-id" pointer
// continues to reflect timeline position only.
package events

// Durable timeline event types (persisted as a Message row, then NOTIFYed).
const (
	EventTypeMessageNew = "message.new"
	EventTypeMessageReplay = "message.replay"
)

// Build/session lifecycle event types.
const (
	EventTypeBuildInitiated = "build_initiated"
	EventTypeBuildCompleted = "build_completed"
	EventTypeBuildFailed = "build_failed"
	EventTypeRecommendations = "recommendations_failed"
)

// Ephemeral event types.
const (
	EventTypeProgress = "progress"
	EventTypeTyping = "typing"
	EventTypePresence = "presence"
	EventTypePlanChunk = "plan.chunk"
	EventTypeStageStatus = "stage.status"
)

// Stage lifecycle status values carried in StageStatusPayload.Status,
// mirroring the AgentSessionStatus values.
const (
	StageStatusStarted = "started"
	StageStatusCompleted = "completed"
	StageStatusFailed = "failed"
	StageStatusTimedOut = "timed_out"
	StageStatusCancelled = "cancelled"
)

// ProjectChannel returns the NOTIFY/subscription channel name for a
// project's combined timeline + ephemeral event stream — "chat:{projectId}"
// each subscriber holds a private subscription to the
// chat:{projectId} channel").
func ProjectChannel(projectID string) string {
	return "chat:" + projectID
}

// GlobalRateLimitChannel carries RateLimitState transitions so every pod's
// LimitController instance observes a pause/resume issued by any replica.
const GlobalRateLimitChannel = "ratelimit:global"

// ClientMessage is the JSON structure for client → server WebSocket
// messages (subscribe/unsubscribe/catchup/ping).
type ClientMessage struct {
	Action string `json:"action"`
	Channel string `json:"channel,omitempty"`
	LastEventID *int `json:"last_event_id,omitempty"`
}
