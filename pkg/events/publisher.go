package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/models"
)

// timeLayout is the wire timestamp format used across every event payload.
const timeLayout = time.RFC3339Nano

const pgUniqueViolation = "23505"

// EventPublisher publishes events for WebSocket delivery, split into two
// surfaces:
//
// - Durable timeline events (message.new, build lifecycle, recommendations
// failure) are persisted as a messages row and broadcast via NOTIFY in
// the same transaction — a client that reconnects can always recover
// them via catchup (see catchup_adapter.go).
// - Ephemeral events (progress, typing, presence, plan chunks, stage
// status) are NOTIFY-only: never written to the messages table, lost to
// a disconnected subscriber, and never replayed.
//
// Each public method accepts a specific typed payload struct — see
// payloads.go. EventPublisher owns the *sql.DB directly (rather than going
// through pkg/store) so the INSERT and the pg_notify can share one
// transaction, matching Postgres's rule that pg_notify is held until COMMIT.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher creates a new EventPublisher.
// The db parameter should be the *sql.DB backing a store.Client.
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// --- Typed public methods: durable timeline ---

// PublishMessageNew persists a Message row (allocating its seq from the
// message_seq sequence) and broadcasts a message.new NOTIFY on the owning
// project's channel. If m is an assistant reply that collides with the
// unique (project_id, parent_message_id) index, PublishMessageNew returns
// errs.ErrDuplicateAssistantReply — the caller treats this
// as a first-class success path, re-reading the existing reply instead of
// treating it as failure.
func (p *EventPublisher) PublishMessageNew(ctx context.Context, m *models.Message) error {
	data, err := json.Marshal(m.ResponseData)
	if err != nil {
		return fmt.Errorf("marshal response data: %w", err)
	}

	return p.persistAndNotify(ctx, m.ProjectID, func(tx *sql.Tx) (int64, error) {
		var seq int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO messages (id, project_id, seq, actor_type, mode, parent_message_id, build_id, text, response_data)
			VALUES ($1, $2, nextval('message_seq'), $3, $4, $5, $6, $7, $8)
			RETURNING seq`,
			m.ID, m.ProjectID, string(m.ActorType), string(m.Mode), m.ParentMessageID, m.BuildID, m.Text, data,
		).Scan(&seq)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return 0, errs.ErrDuplicateAssistantReply
			}
			return 0, fmt.Errorf("insert message: %w", err)
		}
		m.Seq = seq
		return seq, nil
	}, func(seq int64) ([]byte, error) {
		return json.Marshal(MessageNewPayload{
			Type: EventTypeMessageNew,
			ProjectID: m.ProjectID,
			UserID: actorUserID(m),
			ID: m.ID,
			Seq: seq,
			ActorType: string(m.ActorType),
			Mode: string(m.Mode),
			ParentMessageID: derefOrEmpty(m.ParentMessageID),
			BuildID: derefOrEmpty(m.BuildID),
			Text: m.Text,
			ResponseData: m.ResponseData,
			Timestamp: time.Now().Format(timeLayout),
		})
	})
}

// PublishBuildLifecycle persists a system Message recording a build_initiated
// / build_completed / build_failed transition and
// broadcasts the same BuildLifecyclePayload, plus the assigned seq, as a NOTIFY
// on the project channel.
func (p *EventPublisher) PublishBuildLifecycle(ctx context.Context, projectID string, payload BuildLifecyclePayload) error {
	return p.persistSystemMessage(ctx, projectID, payload.BuildID, payload.Type, payload)
}

// PublishRecommendationsFailed persists and broadcasts the advisory
// recommendations_failed event. Per the metadata-stage failure policy this never
// demotes the owning Build from ai_completed — it is visibility only.
func (p *EventPublisher) PublishRecommendationsFailed(ctx context.Context, projectID string, payload RecommendationsFailedPayload) error {
	return p.persistSystemMessage(ctx, projectID, payload.BuildID, payload.Type, payload)
}

// persistSystemMessage wraps an arbitrary system-authored typed payload in a
// Message row (actor_type=system) for the timeline, then NOTIFYs the
// payload's own fields plus the assigned seq.
func (p *EventPublisher) persistSystemMessage(ctx context.Context, projectID, buildID, text string, payload any) error {
	data, err := structToMap(payload)
	if err != nil {
		return fmt.Errorf("marshal system message payload: %w", err)
	}

	var buildIDPtr *string
	if buildID != "" {
		buildIDPtr = &buildID
	}

	return p.persistAndNotify(ctx, projectID, func(tx *sql.Tx) (int64, error) {
		var seq int64
		id := corrLikeID()
		respData, err := json.Marshal(data)
		if err != nil {
			return 0, err
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO messages (id, project_id, seq, actor_type, mode, build_id, text, response_data)
			VALUES ($1, $2, nextval('message_seq'), 'system', 'build', $3, $4, $5)
			RETURNING seq`,
			id, projectID, buildIDPtr, text, respData,
		).Scan(&seq)
		if err != nil {
			return 0, fmt.Errorf("insert system message: %w", err)
		}
		return seq, nil
	}, func(seq int64) ([]byte, error) {
		data["seq"] = seq
		return json.Marshal(data)
	})
}

// --- Typed public methods: ephemeral ---

// PublishProgress broadcasts a stage-progress update as soon as it is
// called; it does not coalesce updates.
func (p *EventPublisher) PublishProgress(ctx context.Context, projectID string, payload ProgressPayload) error {
	return p.notifyTyped(ctx, ProjectChannel(projectID), payload)
}

// PublishStageStatus broadcasts an AgentSession/worker-stage lifecycle
// transition. Ephemeral — not part of the durable timeline.
func (p *EventPublisher) PublishStageStatus(ctx context.Context, projectID string, payload StageStatusPayload) error {
	return p.notifyTyped(ctx, ProjectChannel(projectID), payload)
}

// PublishTyping broadcasts a typing indicator.
func (p *EventPublisher) PublishTyping(ctx context.Context, projectID string, payload TypingPayload) error {
	return p.notifyTyped(ctx, ProjectChannel(projectID), payload)
}

// PublishPresence broadcasts a subscriber online/offline transition.
func (p *EventPublisher) PublishPresence(ctx context.Context, projectID string, payload PresencePayload) error {
	return p.notifyTyped(ctx, ProjectChannel(projectID), payload)
}

// PublishPlanChunk broadcasts a plan-in-progress delta as soon as it is
// called; it does not coalesce deltas.
func (p *EventPublisher) PublishPlanChunk(ctx context.Context, projectID string, payload PlanChunkPayload) error {
	return p.notifyTyped(ctx, ProjectChannel(projectID), payload)
}

// PublishRateLimitChanged broadcasts a RateLimitState transition on the
// global channel so every pod's LimitController observes a pause/resume
// issued by any replica.
func (p *EventPublisher) PublishRateLimitChanged(ctx context.Context, state models.RateLimitState) error {
	payloadJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal rate limit state: %w", err)
	}
	return p.notifyOnly(ctx, GlobalRateLimitChannel, payloadJSON)
}

// --- Internal core methods ---

// persistAndNotify runs insert (which must return the assigned seq) and the
// NOTIFY in a single transaction — pg_notify is transactional, held until
// COMMIT, so a rolled-back insert never leaks a spurious notification.
func (p *EventPublisher) persistAndNotify(ctx context.Context, projectID string, insert func(*sql.Tx) (int64, error), buildPayload func(seq int64) ([]byte, error)) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := insert(tx)
	if err != nil {
		if errors.Is(err, errs.ErrDuplicateAssistantReply) {
			return err
		}
		return err
	}

	payloadJSON, err := buildPayload(seq)
	if err != nil {
		return err
	}

	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", ProjectChannel(projectID), notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return nil
}

// notifyTyped marshals a typed ephemeral payload and broadcasts it.
func (p *EventPublisher) notifyTyped(ctx context.Context, channel string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.notifyOnly(ctx, channel, payloadJSON)
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting to DB.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes, extracting only the routing fields the client needs
// to fetch the complete event from the database via catchup.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type string `json:"type"`
		ProjectID string `json:"project_id"`
		Seq *int64 `json:"seq,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type": routing.Type,
		"project_id": routing.ProjectID,
		"truncated": true,
	}
	if routing.Seq != nil {
		truncated["seq"] = *routing.Seq
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}

// structToMap round-trips a typed payload through JSON to get a
// map[string]any the caller can annotate (e.g. with an assigned seq) before
// the final marshal.
func structToMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// actorUserID returns the user-facing actor id for a Message: "system" for
// worker-originated rows, else the placeholder "user" (models.Message
// carries no user id).
func actorUserID(m *models.Message) string {
	if m.ActorType == models.ActorSystem {
		return "system"
	}
	return "user"
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// corrLikeID mints an id for a system-authored message row. Kept separate
// from pkg/corr (request correlation) since this ids a persisted row, not a
// trace.
func corrLikeID() string {
	return "sysmsg-" + uuid.NewString()
}
