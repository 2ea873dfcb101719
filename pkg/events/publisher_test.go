package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateIfNeeded(t *testing.T) {
	t.Run("passes through normal payload", func(t *testing.T) {
		payload, _ := json.Marshal(MessageNewPayload{
			Type:      EventTypeMessageNew,
			ProjectID: "proj-abc",
			ID:        "msg-1",
			Seq:       1,
			Text:      "some content",
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.Contains(t, result, EventTypeMessageNew)
		assert.Contains(t, result, "proj-abc")
	})

	t.Run("truncates oversized payload", func(t *testing.T) {
		longText := make([]byte, 8000)
		for i := range longText {
			longText[i] = 'a'
		}
		payload, _ := json.Marshal(MessageNewPayload{
			Type:      EventTypeMessageNew,
			ProjectID: "proj-abc",
			ID:        "msg-1",
			Seq:       7,
			Text:      string(longText),
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.Contains(t, result, "truncated")
		assert.Less(t, len(result), 8000)
	})

	t.Run("does not truncate small ephemeral payload", func(t *testing.T) {
		payload, _ := json.Marshal(TypingPayload{
			Type:      EventTypeTyping,
			ProjectID: "proj-abc",
			UserID:    "user-1",
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.NotContains(t, result, "truncated")
	})

	t.Run("truncated payload preserves routing fields", func(t *testing.T) {
		longText := make([]byte, 8000)
		for i := range longText {
			longText[i] = 'x'
		}
		payload, _ := json.Marshal(MessageNewPayload{
			Type:      EventTypeMessageNew,
			ProjectID: "proj-789",
			ID:        "msg-456",
			Seq:       42,
			Text:      string(longText),
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)

		assert.Contains(t, result, EventTypeMessageNew)
		assert.Contains(t, result, "proj-789")
		assert.Contains(t, result, `"seq":42`)
		assert.Contains(t, result, `"truncated":true`)
		assert.NotContains(t, result, "xxxx")
	})

	t.Run("boundary: payload just under limit is not truncated", func(t *testing.T) {
		base, _ := json.Marshal(MessageNewPayload{Type: "t"})
		contentSize := 7900 - len(base) - 20
		content := make([]byte, contentSize)
		for i := range content {
			content[i] = 'b'
		}
		payload, _ := json.Marshal(MessageNewPayload{Type: "t", Text: string(content)})
		require.LessOrEqual(t, len(payload), 7900, "test payload should be under limit")

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.NotContains(t, result, "truncated")
	})

	t.Run("empty JSON object", func(t *testing.T) {
		result, err := truncateIfNeeded("{}")
		require.NoError(t, err)
		assert.Equal(t, "{}", result)
	})
}

func TestNewEventPublisher(t *testing.T) {
	publisher := NewEventPublisher(nil)
	assert.NotNil(t, publisher)
	assert.Nil(t, publisher.db)
}

func TestStageStatusPayload_JSON(t *testing.T) {
	payload := StageStatusPayload{
		Type:      EventTypeStageStatus,
		ProjectID: "proj-123",
		BuildID:   "build-456",
		Stage:     "stream",
		Status:    StageStatusStarted,
		Timestamp: "2026-02-10T12:00:00Z",
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded StageStatusPayload
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, EventTypeStageStatus, decoded.Type)
	assert.Equal(t, "proj-123", decoded.ProjectID)
	assert.Equal(t, "build-456", decoded.BuildID)
	assert.Equal(t, "stream", decoded.Stage)
	assert.Equal(t, StageStatusStarted, decoded.Status)
}

func TestBuildLifecyclePayload_JSON(t *testing.T) {
	payload := BuildLifecyclePayload{
		Type:      EventTypeBuildFailed,
		ProjectID: "proj-200",
		BuildID:   "build-1",
		ErrorType: "timeout",
		Message:   "agent session exceeded its deadline",
		DurationS: 612.5,
		Attempt:   2,
		Timestamp: "2026-02-13T10:00:00Z",
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded BuildLifecyclePayload
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, EventTypeBuildFailed, decoded.Type)
	assert.Equal(t, "proj-200", decoded.ProjectID)
	assert.Equal(t, "timeout", decoded.ErrorType)
	assert.Equal(t, 2, decoded.Attempt)
}

func TestProgressPayload_JSON(t *testing.T) {
	payload := ProgressPayload{
		Type:      EventTypeProgress,
		ProjectID: "proj-300",
		BuildID:   "build-2",
		Stage:     "metadata",
		Detail:    "validating recommendations",
		Pct:       0.75,
		Timestamp: "2026-02-13T10:00:00Z",
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded ProgressPayload
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "proj-300", decoded.ProjectID)
	assert.Equal(t, "metadata", decoded.Stage)
	assert.InDelta(t, 0.75, decoded.Pct, 0.0001)
}
