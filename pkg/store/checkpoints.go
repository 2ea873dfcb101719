package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forgelabs/buildworker/pkg/models"
)

// CheckpointStore manages Checkpoint rows, keyed by BuildID and owned
// exclusively by StreamWorker.
type CheckpointStore struct{ c *Client }

func (c *Client) Checkpoints() *CheckpointStore { return &CheckpointStore{c: c} }

// Upsert writes (or overwrites) the checkpoint for a build between attempts
// once the attempt completes.
func (s *CheckpointStore) Upsert(ctx context.Context, cp *models.Checkpoint) error {
	files, err := json.Marshal(cp.ExistingFiles)
	if err != nil {
		return fmt.Errorf("marshal existing files: %w", err)
	}
	_, err = s.c.db.ExecContext(ctx, `
		INSERT INTO checkpoints (build_id, session_id, existing_files, tokens_used, cost_cents, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (build_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			existing_files = EXCLUDED.existing_files,
			tokens_used = EXCLUDED.tokens_used,
			cost_cents = EXCLUDED.cost_cents,
			updated_at = now()`,
		cp.BuildID, cp.SessionID, files, cp.TokensUsed, cp.CostCents)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// Get fetches a build's checkpoint, or (nil, nil) when none exists yet — the
// caller falls back to scanning the project directory for pre-existing
// files.
func (s *CheckpointStore) Get(ctx context.Context, buildID string) (*models.Checkpoint, error) {
	var row struct {
		BuildID string `db:"build_id"`
		SessionID string `db:"session_id"`
		ExistingFiles []byte `db:"existing_files"`
		TokensUsed int64 `db:"tokens_used"`
		CostCents int64 `db:"cost_cents"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := s.c.db.GetContext(ctx, &row, `SELECT * FROM checkpoints WHERE build_id = $1`, buildID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	var files []string
	if err := json.Unmarshal(row.ExistingFiles, &files); err != nil {
		return nil, fmt.Errorf("unmarshal existing files: %w", err)
	}
	return &models.Checkpoint{
		BuildID: row.BuildID, SessionID: row.SessionID, ExistingFiles: files,
		TokensUsed: row.TokensUsed, CostCents: row.CostCents, UpdatedAt: row.UpdatedAt,
	}, nil
}

// DeleteOlderThan removes checkpoints whose owning build is already
// terminal (deployed or failed) and whose last update is older than cutoff.
// A checkpoint belonging to a still-building project is never reaped,
// regardless of age.
func (s *CheckpointStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.c.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE updated_at < $1
		AND build_id IN (SELECT id FROM builds WHERE status IN ('deployed', 'failed'))`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old checkpoints: %w", err)
	}
	return res.RowsAffected()
}
