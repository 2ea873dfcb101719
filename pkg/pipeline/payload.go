package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/forgelabs/buildworker/pkg/queue"
)

// decodePayload round-trips a Job's map[string]any payload through JSON into
// a typed struct — the same payload shape the producer marshaled with
// encoding/json, just decoded on the consumer side.
func decodePayload(job *queue.Job, out any) error {
	data, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("re-marshal job payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}
	return nil
}
