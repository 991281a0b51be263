package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"preview-gateway/internal/client"
	"preview-gateway/internal/metrics"
	"preview-gateway/internal/migration"
	"preview-gateway/internal/store"
)

var (
	// ErrMigrationNotFound is returned when no migration file has the requested version.
	ErrMigrationNotFound = errors.New("migration not found")
	// ErrAlreadyApplied is returned when applying a version that already succeeded.
	ErrAlreadyApplied = errors.New("migration already applied")
)

// History limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Execution kinds recorded in metrics.
const (
	kindMigration = "migration"
	kindQuery     = "query"
)

// SQLRunner executes SQL against a project's database.
type SQLRunner interface {
	ExecuteSQL(ctx context.Context, projectRef, query string) (json.RawMessage, error)
}

// Overview is the migration state of one project.
type Overview struct {
	ProjectRef string             `json:"project_ref"`
	Migrations []migration.Status `json:"migrations"`
	Invalid    []string           `json:"invalid"`
}

// Bridge applies migrations and ad-hoc SQL through a SQLRunner and records
// every execution in a HistoryStore.
type Bridge struct {
	runner  SQLRunner
	history store.HistoryStore
	source  fs.FS
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewBridge creates a Bridge reading migration files from source. The
// metrics parameter is optional.
func NewBridge(r SQLRunner, h store.HistoryStore, source fs.FS, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	return &Bridge{
		runner:  r,
		history: h,
		source:  source,
		logger:  logger.With("component", "migration_bridge"),
		metrics: m,
		now:     time.Now,
	}
}

// Status reports every migration of the source directory as applied,
// pending or failed for projectRef. A missing directory has no migrations.
func (b *Bridge) Status(ctx context.Context, projectRef string) (*Overview, error) {
	migrations, invalid, err := migration.LoadDir(b.source)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, name := range invalid {
		b.logger.Warn("skipping migration with invalid filename", "file", name)
	}

	records, err := b.history.ListMigrations(ctx, projectRef)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	ov := &Overview{
		ProjectRef: projectRef,
		Migrations: migration.Plan(migrations, records),
		Invalid:    invalid,
	}
	if ov.Invalid == nil {
		ov.Invalid = []string{}
	}
	return ov, nil
}

// Apply executes the migration with the given version. The returned record
// is stored even when execution fails; the error then describes the failure.
func (b *Bridge) Apply(ctx context.Context, projectRef, version string) (store.Record, error) {
	ov, err := b.Status(ctx, projectRef)
	if err != nil {
		return store.Record{}, err
	}
	for _, st := range ov.Migrations {
		if st.Version != version {
			continue
		}
		if st.State == migration.StateApplied {
			return store.Record{}, fmt.Errorf("%w: %s", ErrAlreadyApplied, version)
		}
		return b.applyOne(ctx, projectRef, st.Migration)
	}
	return store.Record{}, fmt.Errorf("%w: %s", ErrMigrationNotFound, version)
}

// ApplyPending applies every pending or failed migration in version order
// and stops at the first failure. Records of the attempted migrations are
// returned in order, including the failed one.
func (b *Bridge) ApplyPending(ctx context.Context, projectRef string) ([]store.Record, error) {
	ov, err := b.Status(ctx, projectRef)
	if err != nil {
		return nil, err
	}

	records := []store.Record{}
	for _, st := range ov.Migrations {
		if st.State == migration.StateApplied {
			continue
		}
		rec, err := b.applyOne(ctx, projectRef, st.Migration)
		if rec.ID != "" {
			records = append(records, rec)
		}
		if err != nil {
			return records, err
		}
	}
	return records, nil
}

func (b *Bridge) applyOne(ctx context.Context, projectRef string, m migration.Migration) (store.Record, error) {
	rec := store.Record{
		ID:         uuid.NewString(),
		ProjectRef: projectRef,
		Version:    m.Version,
		Name:       m.Name,
		Query:      m.SQL,
	}
	rec, _, err := b.run(ctx, kindMigration, rec)
	if err != nil {
		return rec, fmt.Errorf("apply migration %s: %w", m.Filename, err)
	}
	b.logger.Info("migration applied", "project_ref", projectRef, "version", m.Version, "duration_ms", rec.DurationMs)
	return rec, nil
}

// Execute runs an ad-hoc query and returns the stored record with the
// result rows.
func (b *Bridge) Execute(ctx context.Context, projectRef, query string) (store.Record, json.RawMessage, error) {
	rec := store.Record{
		ID:         uuid.NewString(),
		ProjectRef: projectRef,
		Query:      query,
	}
	rec, rows, err := b.run(ctx, kindQuery, rec)
	if err != nil {
		return rec, nil, fmt.Errorf("execute query: %w", err)
	}
	return rec, rows, nil
}

// run executes rec.Query and stores the outcome. Nothing is stored when the
// runner is not configured with credentials, since nothing was executed.
func (b *Bridge) run(ctx context.Context, kind string, rec store.Record) (store.Record, json.RawMessage, error) {
	start := b.now()
	rows, runErr := b.runner.ExecuteSQL(ctx, rec.ProjectRef, rec.Query)
	if errors.Is(runErr, client.ErrMissingAccessToken) {
		return store.Record{}, nil, runErr
	}

	rec.ExecutedAt = start
	rec.DurationMs = b.now().Sub(start).Milliseconds()
	rec.Status = store.StatusSuccess
	if runErr != nil {
		rec.Status = store.StatusError
		rec.Error = runErr.Error()
		b.logger.Warn("sql execution failed",
			"kind", kind,
			"project_ref", rec.ProjectRef,
			"version", rec.Version,
			"err", runErr,
		)
	}
	if b.metrics != nil {
		b.metrics.SQLExecutionsTotal.WithLabelValues(kind, rec.Status).Inc()
	}

	// Stored even if the client has gone away.
	stored, err := b.history.Upsert(context.WithoutCancel(ctx), rec)
	if err != nil {
		return rec, nil, errors.Join(runErr, fmt.Errorf("record execution: %w", err))
	}
	return stored, rows, runErr
}

// History returns the latest records for projectRef, newest first. A
// non-positive limit selects the default; larger limits are capped.
func (b *Bridge) History(ctx context.Context, projectRef string, limit int) ([]store.Record, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	records, err := b.history.List(ctx, projectRef, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if records == nil {
		records = []store.Record{}
	}
	return records, nil
}
