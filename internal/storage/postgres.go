package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
	"github.com/StreetsDigital/aip-coordinator/internal/weave"
)

// PostgresOptions configures the postgres backend
type PostgresOptions struct {
	DSN string
}

// PostgresStore persists records as JSONB documents. Updates take a row lock
// (SELECT ... FOR UPDATE) so mutations of one record are serialized.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS aip_ledger_records (
	serve_token TEXT PRIMARY KEY,
	doc         JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS aip_recommendations (
	session_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (session_id, message_id)
);
`

// NewPostgresStore connects to Postgres and ensures the schema exists
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("postgres backend requires dsn option")
	}
	pool, err := pgxpool.New(ctx, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// CreateRecord inserts a ledger record, failing if the token is taken
func (s *PostgresStore) CreateRecord(ctx context.Context, rec *ledger.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO aip_ledger_records (serve_token, doc) VALUES ($1, $2)
		 ON CONFLICT (serve_token) DO NOTHING`,
		rec.ServeToken, doc)
	if err != nil {
		return fmt.Errorf("postgres insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrAlreadyExists
	}
	return nil
}

// GetRecord loads the record for a serve token
func (s *PostgresStore) GetRecord(ctx context.Context, serveToken string) (*ledger.Record, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM aip_ledger_records WHERE serve_token = $1`,
		serveToken).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres select: %w", err)
	}
	var rec ledger.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("postgres record decode: %w", err)
	}
	return &rec, nil
}

// UpdateRecord applies mutate under a row lock
func (s *PostgresStore) UpdateRecord(ctx context.Context, serveToken string, mutate func(*ledger.Record) error) (*ledger.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx,
		`SELECT doc FROM aip_ledger_records WHERE serve_token = $1 FOR UPDATE`,
		serveToken).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres select for update: %w", err)
	}

	var rec ledger.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("postgres record decode: %w", err)
	}
	if err := mutate(&rec); err != nil {
		return nil, err
	}

	updated, err := json.Marshal(&rec)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE aip_ledger_records SET doc = $2, updated_at = now() WHERE serve_token = $1`,
		serveToken, updated); err != nil {
		return nil, fmt.Errorf("postgres update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres commit: %w", err)
	}
	return &rec, nil
}

// ListRecords loads all ledger records
func (s *PostgresStore) ListRecords(ctx context.Context) ([]*ledger.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM aip_ledger_records`)
	if err != nil {
		return nil, fmt.Errorf("postgres select: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec ledger.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("postgres record decode: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// CreateRecommendation is a conditional insert on the composite key
func (s *PostgresStore) CreateRecommendation(ctx context.Context, rec *weave.Recommendation) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO aip_recommendations (session_id, message_id, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, message_id) DO NOTHING`,
		rec.SessionID, rec.MessageID, doc)
	if err != nil {
		return fmt.Errorf("postgres insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return weave.ErrAlreadyExists
	}
	return nil
}

// GetRecommendation loads the recommendation for a (session, message) key
func (s *PostgresStore) GetRecommendation(ctx context.Context, sessionID, messageID string) (*weave.Recommendation, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM aip_recommendations WHERE session_id = $1 AND message_id = $2`,
		sessionID, messageID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, weave.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres select: %w", err)
	}
	var rec weave.Recommendation
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("postgres recommendation decode: %w", err)
	}
	return &rec, nil
}

// UpdateRecommendation applies mutate under a row lock
func (s *PostgresStore) UpdateRecommendation(ctx context.Context, sessionID, messageID string, mutate func(*weave.Recommendation) error) (*weave.Recommendation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx,
		`SELECT doc FROM aip_recommendations WHERE session_id = $1 AND message_id = $2 FOR UPDATE`,
		sessionID, messageID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, weave.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres select for update: %w", err)
	}

	var rec weave.Recommendation
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("postgres recommendation decode: %w", err)
	}
	if err := mutate(&rec); err != nil {
		return nil, err
	}

	updated, err := json.Marshal(&rec)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE aip_recommendations SET doc = $3, updated_at = now() WHERE session_id = $1 AND message_id = $2`,
		sessionID, messageID, updated); err != nil {
		return nil, fmt.Errorf("postgres update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres commit: %w", err)
	}
	return &rec, nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
