package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"xiezhi/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS approval_records (
	request_id   TEXT PRIMARY KEY,
	action_id    TEXT NOT NULL,
	status       TEXT NOT NULL,
	requested_at TIMESTAMPTZ NOT NULL,
	valid_until  TIMESTAMPTZ,
	record       JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS approval_records_action_idx ON approval_records (action_id, requested_at);
`

// PostgresStore 审批记录存于 approval_records 表；完整记录为 JSONB，检索列单独建列。
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres 连接 dsn、探活并建表。
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("approval: postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("approval: postgres ping: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema 幂等建表。
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("approval: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, rec *models.ApprovalRecord) error {
	if rec == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var validUntil *time.Time
	if !rec.ValidUntil.IsZero() {
		v := rec.ValidUntil.UTC()
		validUntil = &v
	}
	query := `INSERT INTO approval_records (request_id, action_id, status, requested_at, valid_until, record)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (request_id) DO UPDATE SET status = EXCLUDED.status, valid_until = EXCLUDED.valid_until, record = EXCLUDED.record, updated_at = now()`
	_, err = s.db.Exec(ctx, query, rec.RequestID, rec.ActionID, rec.Status.String(), rec.RequestedAt.UTC(), validUntil, string(data))
	return err
}

func (s *PostgresStore) Get(ctx context.Context, requestID string) (*models.ApprovalRecord, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT record FROM approval_records WHERE request_id = $1`, requestID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.ApprovalRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) ByAction(ctx context.Context, actionID string) ([]*models.ApprovalRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT record FROM approval_records WHERE action_id = $1 ORDER BY requested_at, request_id`, actionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ApprovalRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec models.ApprovalRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Close 关闭连接池。
func (s *PostgresStore) Close() {
	s.db.Close()
}
