package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/models"
)

type projectRow struct {
	ID string `db:"id"`
	OwnerUserID string `db:"owner_user_id"`
	Status string `db:"status"`
	CurrentBuildID sql.NullString `db:"current_build_id"`
	CurrentVersionID sql.NullString `db:"current_version_id"`
	LastAgentSessionID sql.NullString `db:"last_agent_session_id"`
	LastBuildStarted sql.NullTime `db:"last_build_started"`
	LastBuildCompleted sql.NullTime `db:"last_build_completed"`
	PreviewURL sql.NullString `db:"preview_url"`
	DeployLane sql.NullString `db:"deploy_lane"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r projectRow) toModel() *models.Project {
	p := &models.Project{
		ID: r.ID,
		OwnerUserID: r.OwnerUserID,
		Status: models.ProjectStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.CurrentBuildID.Valid {
		p.CurrentBuildID = &r.CurrentBuildID.String
	}
	if r.CurrentVersionID.Valid {
		p.CurrentVersionID = &r.CurrentVersionID.String
	}
	if r.LastAgentSessionID.Valid {
		p.LastAgentSessionID = &r.LastAgentSessionID.String
	}
	if r.LastBuildStarted.Valid {
		p.LastBuildStarted = &r.LastBuildStarted.Time
	}
	if r.LastBuildCompleted.Valid {
		p.LastBuildCompleted = &r.LastBuildCompleted.Time
	}
	if r.PreviewURL.Valid {
		p.PreviewURL = &r.PreviewURL.String
	}
	if r.DeployLane.Valid {
		p.DeployLane = &r.DeployLane.String
	}
	return p
}

// ProjectStore is the Project row: the central serialization point for
// every lifecycle transition. Reads-then-writes rely on storage-level
// constraints rather than application locks.
type ProjectStore struct {
	c *Client
}

func (c *Client) Projects() *ProjectStore { return &ProjectStore{c: c} }

// Get fetches a project by id.
func (s *ProjectStore) Get(ctx context.Context, id string) (*models.Project, error) {
	var row projectRow
	err := s.c.db.GetContext(ctx, &row, `SELECT * FROM projects WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindProjectNotFound, "project not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return row.toModel(), nil
}

// TransitionStatus writes the project's status (and, when provided, the
// build id) and immediately reads the row
// back to verify the write landed — both the build initiator and the stream worker require
// this verify-by-read-back before proceeding.
func (s *ProjectStore) TransitionStatus(ctx context.Context, id string, status models.ProjectStatus, buildID *string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE projects
		SET status = $2, current_build_id = COALESCE($3, current_build_id), updated_at = now()
		WHERE id = $1`, id, string(status), buildID)
	if err != nil {
		return errs.Wrap(errs.KindStatusWriteFailed, "transition project status", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		return errs.Wrap(errs.KindStatusWriteFailed, "verify project status write", err)
	}
	if got.Status != status {
		return errs.New(errs.KindStatusWriteFailed, fmt.Sprintf("verify mismatch: wanted %s, got %s", status, got.Status))
	}
	return nil
}

// MarkBuilding clears the prior completion timestamp and stamps
// last_build_started at the start of an attempt.
func (s *ProjectStore) MarkBuilding(ctx context.Context, id string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE projects
		SET status = 'building', last_build_started = now(), last_build_completed = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return errs.Wrap(errs.KindStatusWriteFailed, "mark project building", err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		return errs.Wrap(errs.KindStatusWriteFailed, "verify mark-building write", err)
	}
	if got.Status != models.ProjectBuilding {
		return errs.New(errs.KindStatusWriteFailed, "verify mismatch: project did not transition to building")
	}
	return nil
}

// MarkDeployed sets Project to deployed with a preview URL and lane — the
// DeployWorker's terminal transition, also used by StreamWorker's
// mock-session bypass.
func (s *ProjectStore) MarkDeployed(ctx context.Context, id, previewURL, lane string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE projects
		SET status = 'deployed', preview_url = $2, deploy_lane = $3,
		 last_build_completed = now(), updated_at = now()
		WHERE id = $1`, id, previewURL, lane)
	if err != nil {
		return errs.Wrap(errs.KindStatusWriteFailed, "mark project deployed", err)
	}
	return nil
}

// MarkFailed sets Project to failed — used on terminal StreamWorker or
// DeployWorker failure.
func (s *ProjectStore) MarkFailed(ctx context.Context, id string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE projects SET status = 'failed', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return errs.Wrap(errs.KindStatusWriteFailed, "mark project failed", err)
	}
	return nil
}

// SetLastAgentSessionID records the last agent session for contextual
// continuation.
func (s *ProjectStore) SetLastAgentSessionID(ctx context.Context, id, sessionID string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE projects SET last_agent_session_id = $2, updated_at = now() WHERE id = $1`, id, sessionID)
	return err
}

// SetCurrentVersion updates current_version_id once a Version exists.
func (s *ProjectStore) SetCurrentVersion(ctx context.Context, id, versionID string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE projects SET current_version_id = $2, updated_at = now() WHERE id = $1`, id, versionID)
	return err
}

// EnsureExists inserts a Project row if one is not already present,
// defaulting to status=queued. BuildInitiator's precondition requires the
// row already exist, but integration tests and the admin surface use
// this to seed fixtures.
func (s *ProjectStore) EnsureExists(ctx context.Context, id, ownerUserID string) error {
	_, err := s.c.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_user_id, status) VALUES ($1, $2, 'queued')
		ON CONFLICT (id) DO NOTHING`, id, ownerUserID)
	return err
}
