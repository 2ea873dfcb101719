package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/forgelabs/buildworker/pkg/models"
)

// OperationStore manages BuildOperation, the (projectId, operationId)
// idempotency primitive.
type OperationStore struct{ c *Client }

func (c *Client) Operations() *OperationStore { return &OperationStore{c: c} }

// InsertIfAbsent attempts to insert (projectId, operationId, buildId,
// versionId, status='initiated'). It returns (row, true, nil) when this call
// won the insert race, or (existingRow, false, nil) when a row already
// existed — the caller (BuildInitiator) must then return the existing
// mapping without any further writes.
func (s *OperationStore) InsertIfAbsent(ctx context.Context, projectID, operationID, buildID, versionID string) (*models.BuildOperation, bool, error) {
	if _, err := s.c.db.ExecContext(ctx, insertOperationSQL,
		projectID, operationID, buildID, versionID); err != nil {
		return nil, false, fmt.Errorf("insert build_operation: %w", err)
	}
	return s.winnerRow(ctx, s.c.db, projectID, operationID, buildID, versionID)
}

// InsertIfAbsentTx is InsertIfAbsent scoped to an in-flight transaction — the
// candidate Build row tx created with BuildStore.CreateTx is only kept if
// this call wins the (project_id, operation_id) race; the caller rolls the
// whole transaction back on a loss.
func (s *OperationStore) InsertIfAbsentTx(ctx context.Context, tx *Tx, projectID, operationID, buildID, versionID string) (*models.BuildOperation, bool, error) {
	if _, err := tx.tx.ExecContext(ctx, insertOperationSQL,
		projectID, operationID, buildID, versionID); err != nil {
		return nil, false, fmt.Errorf("insert build_operation: %w", err)
	}
	return s.winnerRow(ctx, tx.tx, projectID, operationID, buildID, versionID)
}

const insertOperationSQL = `
	INSERT INTO build_operations (project_id, operation_id, build_id, version_id, status)
	VALUES ($1, $2, $3, $4, 'initiated')
	ON CONFLICT (project_id, operation_id) DO NOTHING`

// winnerRow re-reads the row the insert raced on and reports whether this
// call's (buildId, versionId) is the one that landed.
func (s *OperationStore) winnerRow(ctx context.Context, q sqlxGetter, projectID, operationID, buildID, versionID string) (*models.BuildOperation, bool, error) {
	row, err := getOperation(ctx, q, projectID, operationID)
	if err != nil {
		return nil, false, err
	}
	won := row.BuildID == buildID && row.VersionID == versionID
	return row, won, nil
}

// sqlxGetter is satisfied by both *sqlx.DB and *sqlx.Tx, letting Get and
// winnerRow share one query regardless of whether it runs against the pool
// or an in-flight transaction.
type sqlxGetter interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Get fetches the BuildOperation for (projectId, operationId).
func (s *OperationStore) Get(ctx context.Context, projectID, operationID string) (*models.BuildOperation, error) {
	return getOperation(ctx, s.c.db, projectID, operationID)
}

func getOperation(ctx context.Context, q sqlxGetter, projectID, operationID string) (*models.BuildOperation, error) {
	var row struct {
		ProjectID string `db:"project_id"`
		OperationID string `db:"operation_id"`
		BuildID string `db:"build_id"`
		VersionID string `db:"version_id"`
		JobID string `db:"job_id"`
		Status string `db:"status"`
		CreatedAt sql.NullTime `db:"created_at"`
	}
	err := q.GetContext(ctx, &row, `
		SELECT project_id, operation_id, build_id, version_id, job_id, status, created_at
		FROM build_operations WHERE project_id = $1 AND operation_id = $2`, projectID, operationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("get build_operation: %w", err)
	}
	op := &models.BuildOperation{
		ProjectID: row.ProjectID,
		OperationID: row.OperationID,
		BuildID: row.BuildID,
		VersionID: row.VersionID,
		JobID: row.JobID,
		Status: row.Status,
	}
	if row.CreatedAt.Valid {
		op.CreatedAt = row.CreatedAt.Time
	}
	return op, nil
}

// PatchJobID sets the real queue job id after a successful enqueue, the build
// step 5. Failure here is non-fatal to the caller; it is surfaced as an
// error so callers can log it without aborting the operation.
func (s *OperationStore) PatchJobID(ctx context.Context, projectID, operationID, jobID string) error {
	_, err := s.c.db.ExecContext(ctx, `
		UPDATE build_operations SET job_id = $3 WHERE project_id = $1 AND operation_id = $2`,
		projectID, operationID, jobID)
	return err
}
