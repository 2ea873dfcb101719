package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/models"
)

// VersionStore manages Version rows, created only on successful agent
// session completion — never speculatively.
type VersionStore struct{ c *Client }

func (c *Client) Versions() *VersionStore { return &VersionStore{c: c} }

// Create inserts the Version row for a successfully completed build. Caller
// computes DisplayName as the next "vN" for the project before calling this
// (pkg/metadata owns the monotonic counter logic); Create itself only
// persists what it's given.
func (s *VersionStore) Create(ctx context.Context, v *models.Version) error {
	_, err := s.c.db.ExecContext(ctx, `
		INSERT INTO versions (id, project_id, build_id, major, minor, patch, change_type, display_name, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.ID, v.ProjectID, v.BuildID, v.Major, v.Minor, v.Patch, string(v.ChangeType), v.DisplayName, v.SessionID)
	if err != nil {
		return fmt.Errorf("create version: %w", err)
	}
	return nil
}

// Get fetches a version by id.
func (s *VersionStore) Get(ctx context.Context, id string) (*models.Version, error) {
	var row struct {
		ID string `db:"id"`
		ProjectID string `db:"project_id"`
		BuildID string `db:"build_id"`
		Major int `db:"major"`
		Minor int `db:"minor"`
		Patch int `db:"patch"`
		ChangeType string `db:"change_type"`
		DisplayName string `db:"display_name"`
		SessionID string `db:"session_id"`
	}
	err := s.c.db.GetContext(ctx, &row, `SELECT id, project_id, build_id, major, minor, patch, change_type, display_name, session_id FROM versions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindProjectNotFound, "version not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return &models.Version{
		ID: row.ID, ProjectID: row.ProjectID, BuildID: row.BuildID,
		Major: row.Major, Minor: row.Minor, Patch: row.Patch,
		ChangeType: models.ChangeType(row.ChangeType), DisplayName: row.DisplayName, SessionID: row.SessionID,
	}, nil
}

// CountForProject returns how many Version rows a project already has, used
// to compute the next "vN" display counter.
func (s *VersionStore) CountForProject(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.c.db.GetContext(ctx, &n, `SELECT count(*) FROM versions WHERE project_id = $1`, projectID)
	return n, err
}

// SetSemver updates the (major, minor, patch, change_type) computed at
// metadata time — but never touches display_name, honoring
// "never overwrite vN with a semantic label."
func (s *VersionStore) SetSemver(ctx context.Context, id string, major, minor, patch int, changeType models.ChangeType) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE versions SET major = $2, minor = $3, patch = $4, change_type = $5 WHERE id = $1`,
		id, major, minor, patch, string(changeType))
	return err
}

// PromoteDisplayName sets display_name to a semantic label, but only if it
// is still in the placeholder "vN" form — see DESIGN.md Open Question 1
// (promotion is one-way; a promoted name is never reverted to vN).
func (s *VersionStore) PromoteDisplayName(ctx context.Context, id, semanticLabel string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE versions SET display_name = $2
		WHERE id = $1 AND display_name ~ '^v[0-9]+$'`, id, semanticLabel)
	return err
}
