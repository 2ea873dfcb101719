package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/forgelabs/buildworker/pkg/models"
)

// RateLimitStore manages the RateLimitState singleton row, owned exclusively
// by LimitController.
type RateLimitStore struct{ c *Client }

func (c *Client) RateLimit() *RateLimitStore { return &RateLimitStore{c: c} }

// Get reads the current (singleton) rate-limit state.
func (s *RateLimitStore) Get(ctx context.Context) (*models.RateLimitState, error) {
	var row struct {
		Active bool `db:"active"`
		ResetAt sql.NullTime `db:"reset_at"`
		Reason string `db:"reason"`
	}
	if err := s.c.db.GetContext(ctx, &row, `SELECT active, reset_at, reason FROM rate_limit_state WHERE id = true`); err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	out := &models.RateLimitState{Active: row.Active, Reason: row.Reason}
	if row.ResetAt.Valid {
		out.ResetAt = &row.ResetAt.Time
	}
	return out, nil
}

// SetActive trips the limiter with a reason and reset deadline.
func (s *RateLimitStore) SetActive(ctx context.Context, reason string, resetAt sql.NullTime) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE rate_limit_state SET active = true, reason = $1, reset_at = $2 WHERE id = true`, reason, resetAt)
	return err
}

// Clear resets the limiter to inactive — used by auto-resume at reset_at and
// by the manual admin clear endpoint.
func (s *RateLimitStore) Clear(ctx context.Context) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE rate_limit_state SET active = false, reason = '', reset_at = NULL WHERE id = true`)
	return err
}
