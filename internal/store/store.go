// Package store persists the SQL execution history of the migration bridge.
package store

import (
	"context"
	"time"
)

// Execution outcomes stored in Record.Status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Record is one SQL execution. Version is empty for ad-hoc queries.
type Record struct {
	ID         string    `json:"id"`
	ProjectRef string    `json:"project_ref"`
	Version    string    `json:"version,omitempty"`
	Name       string    `json:"name,omitempty"`
	Query      string    `json:"query"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	ExecutedAt time.Time `json:"executed_at"`
}

// IsMigration reports whether r records a migration rather than an ad-hoc query.
func (r Record) IsMigration() bool {
	return r.Version != ""
}

// HistoryStore records executions. Upsert is idempotent: migration records
// are keyed by (ProjectRef, Version) and ad-hoc records by ID. The stored
// record is returned; on update it keeps the ID of the existing row.
type HistoryStore interface {
	Upsert(ctx context.Context, r Record) (Record, error)
	// List returns up to limit records for projectRef, newest first.
	List(ctx context.Context, projectRef string, limit int) ([]Record, error)
	// ListMigrations returns every migration record for projectRef, newest
	// first. Ad-hoc queries are excluded and there is no limit.
	ListMigrations(ctx context.Context, projectRef string) ([]Record, error)
}
