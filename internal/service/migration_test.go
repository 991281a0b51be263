package service

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"testing"
	"testing/fstest"
	"time"

	"preview-gateway/internal/client"
	"preview-gateway/internal/metrics"
	"preview-gateway/internal/migration"
	"preview-gateway/internal/store"
)

// fakeRunner answers ExecuteSQL from a map of query to error.
type fakeRunner struct {
	fail    map[string]error
	queries []string
}

func (f *fakeRunner) ExecuteSQL(_ context.Context, _ string, query string) (json.RawMessage, error) {
	f.queries = append(f.queries, query)
	if err := f.fail[query]; err != nil {
		return nil, err
	}
	return json.RawMessage(`[{"ok":true}]`), nil
}

var migrationFiles = fstest.MapFS{
	"1_create_users.sql": {Data: []byte("create table users (id int);")},
	"2_create_posts.sql": {Data: []byte("create table posts (id int);")},
	"10_add_index.sql":   {Data: []byte("create index on posts (id);")},
	"notes.txt":          {Data: []byte("ignored")},
	"20240101_b@d.sql":   {Data: []byte("")},
}

// missingFS behaves like a directory that does not exist.
type missingFS struct{}

func (missingFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

func newTestBridge(r SQLRunner, h store.HistoryStore, m *metrics.Metrics) *Bridge {
	b := NewBridge(r, h, migrationFiles, testLogger(), m)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return b
}

func states(ov *Overview) []string {
	out := make([]string, len(ov.Migrations))
	for i, st := range ov.Migrations {
		out[i] = st.Version + "=" + st.State
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBridge_Status(t *testing.T) {
	b := newTestBridge(&fakeRunner{}, store.NewMemoryStore(), nil)

	ov, err := b.Status(context.Background(), "proj")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if want := []string{"1=pending", "2=pending", "10=pending"}; !equalStrings(states(ov), want) {
		t.Errorf("states = %v, want %v", states(ov), want)
	}
	if len(ov.Invalid) != 1 || ov.Invalid[0] != "20240101_b@d.sql" {
		t.Errorf("Invalid = %v", ov.Invalid)
	}
}

func TestBridge_Status_MissingDir(t *testing.T) {
	b := NewBridge(&fakeRunner{}, store.NewMemoryStore(), missingFS{}, testLogger(), nil)

	ov, err := b.Status(context.Background(), "proj")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(ov.Migrations) != 0 {
		t.Errorf("Migrations = %v, want none", ov.Migrations)
	}
}

func TestBridge_Apply(t *testing.T) {
	h := store.NewMemoryStore()
	m := metrics.New()
	b := newTestBridge(&fakeRunner{}, h, m)
	ctx := context.Background()

	rec, err := b.Apply(ctx, "proj", "2")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if rec.Version != "2" || rec.Name != "create_posts" || rec.Status != store.StatusSuccess || rec.ID == "" {
		t.Errorf("record = %+v", rec)
	}

	ov, _ := b.Status(ctx, "proj")
	if want := []string{"1=pending", "2=applied", "10=pending"}; !equalStrings(states(ov), want) {
		t.Errorf("states = %v, want %v", states(ov), want)
	}

	if _, err := b.Apply(ctx, "proj", "2"); !errors.Is(err, ErrAlreadyApplied) {
		t.Errorf("second Apply() error = %v, want ErrAlreadyApplied", err)
	}
	if _, err := b.Apply(ctx, "proj", "99"); !errors.Is(err, ErrMigrationNotFound) {
		t.Errorf("Apply(99) error = %v, want ErrMigrationNotFound", err)
	}
	if got := counterValue(t, m, "preview_gateway_sql_executions_total", "kind", "migration"); got != 1 {
		t.Errorf("migration executions = %v, want 1", got)
	}
}

func TestBridge_ApplyFailureThenRetry(t *testing.T) {
	h := store.NewMemoryStore()
	apiErr := &client.APIError{Method: http.MethodPost, StatusCode: 400, Body: "syntax error"}
	runner := &fakeRunner{fail: map[string]error{"create table users (id int);": apiErr}}
	b := newTestBridge(runner, h, nil)
	ctx := context.Background()

	rec, err := b.Apply(ctx, "proj", "1")
	var got *client.APIError
	if !errors.As(err, &got) {
		t.Fatalf("Apply() error = %v, want *client.APIError", err)
	}
	if rec.Status != store.StatusError || rec.Error == "" {
		t.Errorf("failed record = %+v", rec)
	}

	ov, _ := b.Status(ctx, "proj")
	if ov.Migrations[0].State != migration.StateFailed {
		t.Errorf("state = %q, want failed", ov.Migrations[0].State)
	}

	delete(runner.fail, "create table users (id int);")
	retry, err := b.Apply(ctx, "proj", "1")
	if err != nil {
		t.Fatalf("retry Apply() error = %v", err)
	}
	if retry.ID != rec.ID {
		t.Errorf("retry ID = %s, want upserted %s", retry.ID, rec.ID)
	}

	all, _ := h.List(ctx, "proj", 0)
	if len(all) != 1 {
		t.Errorf("history has %d records, want 1 after idempotent upsert", len(all))
	}
}

func TestBridge_ApplyPending_StopsAtFirstFailure(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{
		"create table posts (id int);": errors.New("relation already exists"),
	}}
	b := newTestBridge(runner, store.NewMemoryStore(), nil)
	ctx := context.Background()

	records, err := b.ApplyPending(ctx, "proj")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Version != "1" || records[0].Status != store.StatusSuccess {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[1].Version != "2" || records[1].Status != store.StatusError {
		t.Errorf("records[1] = %+v", records[1])
	}
	if len(runner.queries) != 2 {
		t.Errorf("executed %d queries, want 2 (stop after failure)", len(runner.queries))
	}

	ov, _ := b.Status(ctx, "proj")
	if want := []string{"1=applied", "2=failed", "10=pending"}; !equalStrings(states(ov), want) {
		t.Errorf("states = %v, want %v", states(ov), want)
	}

	delete(runner.fail, "create table posts (id int);")
	records, err = b.ApplyPending(ctx, "proj")
	if err != nil {
		t.Fatalf("second ApplyPending() error = %v", err)
	}
	if len(records) != 2 || records[0].Version != "2" || records[1].Version != "10" {
		t.Errorf("second run records = %+v", records)
	}
}

func TestBridge_AppliedStateSurvivesQueryHistory(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}
	b := newTestBridge(runner, store.NewMemoryStore(), nil)

	if _, err := b.ApplyPending(ctx, "proj"); err != nil {
		t.Fatalf("ApplyPending() error = %v", err)
	}
	for range 10001 {
		if _, _, err := b.Execute(ctx, "proj", "select 1"); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}

	ov, err := b.Status(ctx, "proj")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	want := []string{"1=applied", "2=applied", "10=applied"}
	if got := states(ov); !equalStrings(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}

	calls := len(runner.queries)
	records, err := b.ApplyPending(ctx, "proj")
	if err != nil {
		t.Fatalf("second ApplyPending() error = %v", err)
	}
	if len(records) != 0 || len(runner.queries) != calls {
		t.Errorf("applied migrations ran again: %d records, runner calls %d -> %d", len(records), calls, len(runner.queries))
	}
}

func TestBridge_MissingAccessTokenNotRecorded(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{"select 1": client.ErrMissingAccessToken}}
	h := store.NewMemoryStore()
	b := newTestBridge(runner, h, nil)

	_, _, err := b.Execute(context.Background(), "proj", "select 1")
	if !errors.Is(err, client.ErrMissingAccessToken) {
		t.Fatalf("error = %v, want ErrMissingAccessToken", err)
	}
	if all, _ := h.List(context.Background(), "proj", 0); len(all) != 0 {
		t.Errorf("history = %+v, want empty", all)
	}
}

func TestBridge_Execute(t *testing.T) {
	h := store.NewMemoryStore()
	b := newTestBridge(&fakeRunner{}, h, nil)

	rec, rows, err := b.Execute(context.Background(), "proj", "select 1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if string(rows) != `[{"ok":true}]` {
		t.Errorf("rows = %s", rows)
	}
	if rec.Version != "" || rec.Query != "select 1" || rec.Status != store.StatusSuccess {
		t.Errorf("record = %+v", rec)
	}
	if rec.DurationMs != 1000 {
		t.Errorf("DurationMs = %d, want 1000", rec.DurationMs)
	}
}

func TestBridge_History(t *testing.T) {
	h := store.NewMemoryStore()
	b := newTestBridge(&fakeRunner{}, h, nil)
	ctx := context.Background()

	for range 3 {
		if _, _, err := b.Execute(ctx, "proj", "select 1"); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default", 0, 3},
		{"negative", -1, 3},
		{"bounded", 2, 2},
		{"capped", MaxHistoryLimit + 1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.History(ctx, "proj", tt.limit)
			if err != nil {
				t.Fatalf("History() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d records, want %d", len(got), tt.want)
			}
		})
	}

	empty, err := b.History(ctx, "other", 0)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("History(other) = %v, %v; want empty non-nil slice", empty, err)
	}
}
