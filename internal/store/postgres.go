package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS sql_history (
	id          UUID PRIMARY KEY,
	project_ref TEXT NOT NULL,
	version     TEXT,
	name        TEXT NOT NULL DEFAULT '',
	query       TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS sql_history_migration_idx
	ON sql_history (project_ref, version) WHERE version IS NOT NULL;
CREATE INDEX IF NOT EXISTS sql_history_project_time_idx
	ON sql_history (project_ref, executed_at DESC);
`

const upsertMigration = `
INSERT INTO sql_history (id, project_ref, version, name, query, status, error, duration_ms, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (project_ref, version) WHERE version IS NOT NULL DO UPDATE SET
	name = EXCLUDED.name,
	query = EXCLUDED.query,
	status = EXCLUDED.status,
	error = EXCLUDED.error,
	duration_ms = EXCLUDED.duration_ms,
	executed_at = EXCLUDED.executed_at
RETURNING id::text`

const upsertQuery = `
INSERT INTO sql_history (id, project_ref, version, name, query, status, error, duration_ms, executed_at)
VALUES ($1, $2, NULL, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	query = EXCLUDED.query,
	status = EXCLUDED.status,
	error = EXCLUDED.error,
	duration_ms = EXCLUDED.duration_ms,
	executed_at = EXCLUDED.executed_at
RETURNING id::text`

// PostgresStore is a HistoryStore backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the history table and its indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create sql_history schema: %w", err)
	}
	return nil
}

// Upsert implements HistoryStore.
func (s *PostgresStore) Upsert(ctx context.Context, r Record) (Record, error) {
	var row pgx.Row
	if r.IsMigration() {
		row = s.pool.QueryRow(ctx, upsertMigration,
			r.ID, r.ProjectRef, r.Version, r.Name, r.Query, r.Status, r.Error, r.DurationMs, r.ExecutedAt)
	} else {
		row = s.pool.QueryRow(ctx, upsertQuery,
			r.ID, r.ProjectRef, r.Name, r.Query, r.Status, r.Error, r.DurationMs, r.ExecutedAt)
	}

	if err := row.Scan(&r.ID); err != nil {
		return Record{}, fmt.Errorf("upsert sql_history %s: %w", r.ID, err)
	}
	return r, nil
}

const selectRecords = `SELECT id::text, project_ref, COALESCE(version, ''), name, query, status, error, duration_ms, executed_at
	FROM sql_history`

// List implements HistoryStore.
func (s *PostgresStore) List(ctx context.Context, projectRef string, limit int) ([]Record, error) {
	return s.query(ctx, selectRecords+` WHERE project_ref = $1 ORDER BY executed_at DESC LIMIT $2`, projectRef, limit)
}

// ListMigrations implements HistoryStore.
func (s *PostgresStore) ListMigrations(ctx context.Context, projectRef string) ([]Record, error) {
	return s.query(ctx, selectRecords+` WHERE project_ref = $1 AND version IS NOT NULL ORDER BY executed_at DESC`, projectRef)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list sql_history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.ProjectRef, &r.Version, &r.Name, &r.Query,
			&r.Status, &r.Error, &r.DurationMs, &r.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan sql_history: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
