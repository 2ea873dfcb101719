package events

// MessageNewPayload is the payload for message.new events — a durable
// timeline entry. Every payload is a flat JSON object carrying type,
// project_id and timestamp; only message.new, typing and presence carry a
// user_id ("system" for worker rows), the other payloads carry none. seq/id
// are the two fields that distinguish it from an ephemeral event.
type MessageNewPayload struct {
	Type string `json:"type"` // always EventTypeMessageNew
	ProjectID string `json:"project_id"`
	UserID string `json:"user_id"` // "system" for worker-originated messages
	ID string `json:"id"`
	Seq int64 `json:"seq"`
	ActorType string `json:"actor_type"`
	Mode string `json:"mode"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	BuildID string `json:"build_id,omitempty"`
	Text string `json:"text"`
	ResponseData map[string]any `json:"response_data,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// BuildLifecyclePayload is the payload for build_initiated, build_completed,
// and build_failed — the three durable system messages a build timeline emits
// on the happy-path timeline, and the {type:'build_failed', error_type,
// message, duration, attempt} shape used for terminal failures.
type BuildLifecyclePayload struct {
	Type string `json:"type"`
	ProjectID string `json:"project_id"`
	BuildID string `json:"build_id"`
	VersionID string `json:"version_id,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Message string `json:"message,omitempty"`
	DurationS float64 `json:"duration,omitempty"`
	Attempt int `json:"attempt,omitempty"`
	Timestamp string `json:"timestamp"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// RecommendationsFailedPayload is the advisory failure event of the metadata stage's
// failure policy — logged and broadcast, but never demotes the Build from
// ai_completed.
type RecommendationsFailedPayload struct {
	Type string `json:"type"`
	ProjectID string `json:"project_id"`
	BuildID string `json:"build_id"`
	Reason string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// ProgressPayload is an ephemeral progress update. EventPublisher sends each
// one as it is published; nothing coalesces them.
type ProgressPayload struct {
	Type string `json:"type"`
	ProjectID string `json:"project_id"`
	BuildID string `json:"build_id,omitempty"`
	Stage string `json:"stage"` // "stream", "metadata", "deploy"
	Detail string `json:"detail,omitempty"`
	Pct float64 `json:"pct,omitempty"`
	Timestamp string `json:"timestamp"`
}

// StageStatusPayload is the payload for stage.status events — the
// AgentSession/worker-stage lifecycle transitions (started, completed,
// failed, timed_out, cancelled).
type StageStatusPayload struct {
	Type string `json:"type"`
	ProjectID string `json:"project_id"`
	BuildID string `json:"build_id"`
	Stage string `json:"stage"`
	Status string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// TypingPayload and PresencePayload are the remaining ephemeral event kinds
// ("typing, presence, progress, plan-in-progress chunks").
type TypingPayload struct {
	Type string `json:"type"`
	ProjectID string `json:"project_id"`
	UserID string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

type PresencePayload struct {
	Type string `json:"type"`
	ProjectID string `json:"project_id"`
	UserID string `json:"user_id"`
	Online bool `json:"online"`
	Timestamp string `json:"timestamp"`
}

// PlanChunkPayload carries a plan-in-progress delta.
type PlanChunkPayload struct {
	Type string `json:"type"`
	ProjectID string `json:"project_id"`
	Delta string `json:"delta"`
	Timestamp string `json:"timestamp"`
}
