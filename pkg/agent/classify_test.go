package agent

import "testing"

func TestIsMockSession(t *testing.T) {
	cases := []struct {
		sessionID, prefix string
		want              bool
	}{
		{"mock_session_abc", "mock_session_", true},
		{"sess-real-123", "mock_session_", false},
		{"mock_session_abc", "", false},
		{"", "mock_session_", false},
	}
	for _, c := range cases {
		if got := IsMockSession(c.sessionID, c.prefix); got != c.want {
			t.Errorf("IsMockSession(%q, %q) = %v, want %v", c.sessionID, c.prefix, got, c.want)
		}
	}
}
