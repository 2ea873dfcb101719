package agent

// Record is one newline-delimited JSON line emitted on the agent's stdout.
// The first record in a run carries SessionID; later records carry tool
// calls, file writes, token deltas, cost updates, and exactly one final
// Result.
type Record struct {
	SessionID string `json:"session_id,omitempty"`
	Type string `json:"type,omitempty"`
	Tokens int64 `json:"tokens,omitempty"`
	CostCents int64 `json:"cost_cents,omitempty"`
	File string `json:"file,omitempty"`
	Result *Outcome `json:"result,omitempty"`
}

// Outcome is the final record's payload.
type Outcome struct {
	Success bool `json:"success"`
	Error string `json:"error,omitempty"`
	// SessionNotFound is set by the agent when a requested resume session
	// id is unknown — the supervisor treats this
	// as a signal to fall back to a fresh session with the same prompt,
	// never as a failure.
	SessionNotFound bool `json:"session_not_found,omitempty"`
}

const (
	recordTypeToolCall = "tool_call"
	recordTypeFileWrite = "file_write"
	recordTypeTokenDelta = "token_delta"
	recordTypeCostUpdate = "cost_update"
	recordTypeResult = "result"
)
