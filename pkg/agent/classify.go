package agent

import "strings"

// IsMockSession reports whether sessionID matches the configured mock-session
// prefix. prefix is supplied by config.WorkerConfig.MockSessionPrefix; an
// empty prefix disables the bypass entirely.
func IsMockSession(sessionID, prefix string) bool {
	if prefix == "" || sessionID == "" {
		return false
	}
	return strings.HasPrefix(sessionID, prefix)
}
