// Package migration loads versioned SQL migration files and works out which
// of them have been applied to a project.
package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"

	"preview-gateway/internal/store"
)

var (
	// ErrInvalidFilename is returned for a .sql file not named <version>_<name>.sql.
	ErrInvalidFilename = errors.New("invalid migration filename")
	// ErrDuplicateVersion is returned when two files share a version.
	ErrDuplicateVersion = errors.New("duplicate migration version")
)

// States reported by Plan.
const (
	StateApplied = "applied"
	StatePending = "pending"
	StateFailed  = "failed"
)

var filenamePattern = regexp.MustCompile(`^([0-9]+)_([A-Za-z0-9_.-]+)\.sql$`)

// Migration is one SQL file.
type Migration struct {
	Version  string `json:"version"`
	Name     string `json:"name"`
	Filename string `json:"filename"`
	SQL      string `json:"-"`
}

// Status is the state of a migration for one project.
type Status struct {
	Migration
	State      string        `json:"state"`
	LastRecord *store.Record `json:"last_record,omitempty"`
}

// ParseFilename splits a migration filename into version and name.
func ParseFilename(filename string) (version, name string, err error) {
	m := filenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return m[1], m[2], nil
}

// LoadDir reads the *.sql files at the top level of fsys. Files that are not
// .sql are ignored; .sql files with invalid names are returned in invalid
// and otherwise skipped. The result is sorted by version.
func LoadDir(fsys fs.FS) (migrations []Migration, invalid []string, err error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("read migrations dir: %w", err)
	}

	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		version, name, perr := ParseFilename(e.Name())
		if perr != nil {
			invalid = append(invalid, e.Name())
			continue
		}
		if prev, ok := seen[version]; ok {
			return nil, nil, fmt.Errorf("%w: %s in %s and %s", ErrDuplicateVersion, version, prev, e.Name())
		}
		seen[version] = e.Name()

		data, rerr := fs.ReadFile(fsys, e.Name())
		if rerr != nil {
			return nil, nil, fmt.Errorf("read migration %s: %w", e.Name(), rerr)
		}
		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: e.Name(),
			SQL:      string(data),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return versionLess(migrations[i].Version, migrations[j].Version)
	})
	return migrations, invalid, nil
}

// versionLess orders digit strings numerically, then lexically so "01"
// sorts before "1".
func versionLess(a, b string) bool {
	ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
	if len(ta) != len(tb) {
		return len(ta) < len(tb)
	}
	if ta != tb {
		return ta < tb
	}
	return a < b
}

// Plan reports the state of every migration given the project's execution
// history. A version is applied once a successful record exists for it and
// failed when its latest record is an error.
func Plan(migrations []Migration, records []store.Record) []Status {
	latest := make(map[string]store.Record)
	applied := make(map[string]bool)
	for _, r := range records {
		if !r.IsMigration() {
			continue
		}
		if r.Status == store.StatusSuccess {
			applied[r.Version] = true
		}
		if prev, ok := latest[r.Version]; !ok || r.ExecutedAt.After(prev.ExecutedAt) {
			latest[r.Version] = r
		}
	}

	out := make([]Status, 0, len(migrations))
	for _, m := range migrations {
		st := Status{Migration: m, State: StatePending}
		if r, ok := latest[m.Version]; ok {
			st.LastRecord = &r
			if r.Status == store.StatusError {
				st.State = StateFailed
			}
		}
		if applied[m.Version] {
			st.State = StateApplied
		}
		out = append(out, st)
	}
	return out
}
