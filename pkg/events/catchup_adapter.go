package events

import (
	"context"

	"github.com/forgelabs/buildworker/pkg/models"
)

// messageReplayer abstracts the replay query needed by MessageStoreAdapter.
// Implemented by *store.MessageStore.
type messageReplayer interface {
	ReplaySince(ctx context.Context, projectID string, lastSeq int64, limit int) ([]*models.Message, error)
}

// MessageStoreAdapter wraps a messageReplayer to implement CatchupQuerier,
// translating the durable message.new surface into the generic
// CatchupEvent shape ConnectionManager expects. channel is always a
// "chat:{projectId}" string (see ProjectChannel); the projectId is recovered
// from it since CatchupQuerier is channel-keyed, not project-keyed.
type MessageStoreAdapter struct {
	messages messageReplayer
}

// NewMessageStoreAdapter creates a CatchupQuerier from a MessageStore.
func NewMessageStoreAdapter(messages messageReplayer) *MessageStoreAdapter {
	return &MessageStoreAdapter{messages: messages}
}

// GetCatchupEvents replays messages with seq > sinceID for the project named
// by channel, re-wrapping each as a message.replay CatchupEvent.
func (a *MessageStoreAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	projectID, ok := projectIDFromChannel(channel)
	if !ok {
		return nil, nil
	}

	msgs, err := a.messages.ReplaySince(ctx, projectID, int64(sinceID), limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, len(msgs))
	for i, m := range msgs {
		result[i] = CatchupEvent{
			ID: int(m.Seq),
			Payload: messagePayloadMap(m),
		}
	}
	return result, nil
}

// projectIDFromChannel strips the "chat:" prefix ProjectChannel adds.
func projectIDFromChannel(channel string) (string, bool) {
	const prefix = "chat:"
	if len(channel) <= len(prefix) || channel[:len(prefix)] != prefix {
		return "", false
	}
	return channel[len(prefix):], true
}

// messagePayloadMap re-derives the message fields a live message.new NOTIFY
// carries, tagged with type message.replay instead; user_id is not included.
func messagePayloadMap(m *models.Message) map[string]interface{} {
	payload := map[string]interface{}{
		"type": EventTypeMessageReplay,
		"project_id": m.ProjectID,
		"id": m.ID,
		"seq": m.Seq,
		"actor_type": string(m.ActorType),
		"mode": string(m.Mode),
		"text": m.Text,
		"timestamp": m.CreatedAt.Format(timeLayout),
	}
	if m.ParentMessageID != nil {
		payload["parent_message_id"] = *m.ParentMessageID
	}
	if m.BuildID != nil {
		payload["build_id"] = *m.BuildID
	}
	if len(m.ResponseData) > 0 {
		payload["response_data"] = m.ResponseData
	}
	return payload
}
