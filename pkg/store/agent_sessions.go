package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AgentSessionStore records the lifecycle of the AgentSession entity.
// StreamWorker owns it exclusively.
type AgentSessionStore struct{ c *Client }

func (c *Client) AgentSessions() *AgentSessionStore { return &AgentSessionStore{c: c} }

// Spawn inserts a new AgentSession row in the "spawning" state under a
// caller-supplied placeholder id, since the agent has not yet reported its
// self-assigned session_id — Learn renames the row once it is known.
func (s *AgentSessionStore) Spawn(ctx context.Context, placeholderID, buildID, projectID string, attempt int) error {
	_, err := s.c.db.ExecContext(ctx, `
		INSERT INTO agent_sessions (id, build_id, project_id, status, attempt)
		VALUES ($1, $2, $3, 'spawning', $4)`, placeholderID, buildID, projectID, attempt)
	if err != nil {
		return fmt.Errorf("spawn agent session: %w", err)
	}
	return nil
}

// Learn renames the placeholder row to the agent-assigned session id and
// moves it to "running".
func (s *AgentSessionStore) Learn(ctx context.Context, placeholderID, realID string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE agent_sessions SET id = $2, status = 'running' WHERE id = $1`, placeholderID, realID)
	return err
}

// SetStatus transitions the session to a terminal (or intermediate) status
// and, for terminal statuses, stamps ended_at.
func (s *AgentSessionStore) SetStatus(ctx context.Context, id, status string, terminal bool) error {
	if terminal {
		_, err := s.c.db.ExecContext(ctx, `
			UPDATE agent_sessions SET status = $2, ended_at = now() WHERE id = $1`, id, status)
		return err
	}
	_, err := s.c.db.ExecContext(ctx, `UPDATE agent_sessions SET status = $2 WHERE id = $1`, id, status)
	return err
}

// ReapStale transitions sessions still in spawning/running with
// started_at older than cutoff to "timed_out" — the crash-recovery path for
// a worker pod that died mid-attempt without ever reporting a terminal
// status. Returns the number of sessions reaped.
func (s *AgentSessionStore) ReapStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.c.db.ExecContext(ctx, `
		UPDATE agent_sessions SET status = 'timed_out', ended_at = now()
		WHERE status IN ('spawning', 'running') AND started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stale agent sessions: %w", err)
	}
	return res.RowsAffected()
}

// Exists reports whether a session id is known to storage — used to decide
// whether a "session not found" from the upstream agent should be trusted
// (it always is; this is for diagnostics/tests).
func (s *AgentSessionStore) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.c.db.GetContext(ctx, &n, `SELECT count(*) FROM agent_sessions WHERE id = $1`, id)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	return n > 0, nil
}
