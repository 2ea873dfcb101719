package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/models"
)

const pgUniqueViolation = "23505"

// MessageStore manages the durable per-project timeline, keyed by
// (ProjectID, Seq). Seq allocation is owned exclusively by EventBus, which
// calls NextSeq before inserting.
type MessageStore struct{ c *Client }

func (c *Client) Messages() *MessageStore { return &MessageStore{c: c} }

// NextSeq draws the next value from the process-wide monotonic message_seq
// sequence. A single Postgres SEQUENCE (rather than a per-project counter
// column) is cheap to allocate without a row lock and keeps seq increasing
// within a project; it is not gapless there, since every project draws from
// the same sequence.
func (s *MessageStore) NextSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.c.db.GetContext(ctx, &seq, `SELECT nextval('message_seq')`); err != nil {
		return 0, fmt.Errorf("allocate message seq: %w", err)
	}
	return seq, nil
}

// Insert writes a Message row. When the row is an assistant reply that
// collides with the unique (project_id, parent_message_id) index, Insert
// returns errs.ErrDuplicateAssistantReply; the caller (EventBus) treats this
// as a first-class success path: re-read the existing
// reply and return it as its own success.
func (s *MessageStore) Insert(ctx context.Context, m *models.Message) error {
	data, err := json.Marshal(m.ResponseData)
	if err != nil {
		return fmt.Errorf("marshal response data: %w", err)
	}
	_, err = s.c.db.ExecContext(ctx, `
		INSERT INTO messages (id, project_id, seq, actor_type, mode, parent_message_id, build_id, text, response_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ProjectID, m.Seq, string(m.ActorType), string(m.Mode), m.ParentMessageID, m.BuildID, m.Text, data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return errs.ErrDuplicateAssistantReply
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetAssistantReply fetches the existing assistant reply for a parent
// message, used by the losing side of a duplicate-reply race.
func (s *MessageStore) GetAssistantReply(ctx context.Context, projectID, parentMessageID string) (*models.Message, error) {
	return s.scanOne(ctx, `
		SELECT * FROM messages WHERE project_id = $1 AND parent_message_id = $2 AND actor_type = 'assistant'`,
		projectID, parentMessageID)
}

// ReplaySince returns durable timeline messages with seq > lastSeq, in seq
// order — the "message.replay" surface.
func (s *MessageStore) ReplaySince(ctx context.Context, projectID string, lastSeq int64, limit int) ([]*models.Message, error) {
	rows, err := s.c.db.QueryxContext(ctx, `
		SELECT * FROM messages WHERE project_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`,
		projectID, lastSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("replay messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var row messageRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *MessageStore) scanOne(ctx context.Context, query string, args...any) (*models.Message, error) {
	var row messageRow
	err := s.c.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return row.toModel()
}

type messageRow struct {
	ID string `db:"id"`
	ProjectID string `db:"project_id"`
	Seq int64 `db:"seq"`
	ActorType string `db:"actor_type"`
	Mode string `db:"mode"`
	ParentMessageID sql.NullString `db:"parent_message_id"`
	BuildID sql.NullString `db:"build_id"`
	Text string `db:"text"`
	ResponseData []byte `db:"response_data"`
	CreatedAt sql.NullTime `db:"created_at"`
}

func (r messageRow) toModel() (*models.Message, error) {
	var data map[string]any
	if len(r.ResponseData) > 0 {
		if err := json.Unmarshal(r.ResponseData, &data); err != nil {
			return nil, fmt.Errorf("unmarshal response data: %w", err)
		}
	}
	m := &models.Message{
		ID: r.ID, ProjectID: r.ProjectID, Seq: r.Seq,
		ActorType: models.ActorType(r.ActorType), Mode: models.MessageMode(r.Mode),
		Text: r.Text, ResponseData: data,
	}
	if r.ParentMessageID.Valid {
		m.ParentMessageID = &r.ParentMessageID.String
	}
	if r.BuildID.Valid {
		m.BuildID = &r.BuildID.String
	}
	if r.CreatedAt.Valid {
		m.CreatedAt = r.CreatedAt.Time
	}
	return m, nil
}
