package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecommendationStore manages the recommendations record MetadataWorker
// produces at most once per build.
type RecommendationStore struct{ c *Client }

func (c *Client) Recommendations() *RecommendationStore { return &RecommendationStore{c: c} }

// Exists reports whether a recommendations record for buildID has already
// been persisted — MetadataWorker's idempotency check before re-entering
// the agent session.
func (s *RecommendationStore) Exists(ctx context.Context, buildID string) (bool, error) {
	var n int
	err := s.c.db.GetContext(ctx, &n, `SELECT count(*) FROM recommendations WHERE build_id = $1`, buildID)
	if err != nil {
		return false, fmt.Errorf("check recommendations exist: %w", err)
	}
	return n > 0, nil
}

// Create persists the raw recommendations JSON for a build. Conflicts on a
// re-run are treated as already-settled, not as an error.
func (s *RecommendationStore) Create(ctx context.Context, buildID, projectID string, raw []byte) error {
	_, err := s.c.db.ExecContext(ctx, `
		INSERT INTO recommendations (build_id, project_id, raw) VALUES ($1, $2, $3)
		ON CONFLICT (build_id) DO NOTHING`, buildID, projectID, raw)
	if err != nil {
		return fmt.Errorf("create recommendations: %w", err)
	}
	return nil
}

// Get fetches the raw recommendations JSON for a build.
func (s *RecommendationStore) Get(ctx context.Context, buildID string) ([]byte, error) {
	var raw []byte
	err := s.c.db.GetContext(ctx, &raw, `SELECT raw FROM recommendations WHERE build_id = $1`, buildID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recommendations: %w", err)
	}
	return raw, nil
}
