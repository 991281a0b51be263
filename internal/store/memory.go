package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-local HistoryStore. History is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Upsert implements HistoryStore.
func (s *MemoryStore) Upsert(_ context.Context, r Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.records {
		if sameKey(existing, r) {
			r.ID = existing.ID
			s.records[i] = r
			return r, nil
		}
	}
	s.records = append(s.records, r)
	return r, nil
}

func sameKey(a, b Record) bool {
	if b.IsMigration() {
		return a.ProjectRef == b.ProjectRef && a.Version == b.Version
	}
	return !a.IsMigration() && a.ID == b.ID
}

// List implements HistoryStore.
func (s *MemoryStore) List(_ context.Context, projectRef string, limit int) ([]Record, error) {
	out := s.newestFirst(func(r Record) bool { return r.ProjectRef == projectRef })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListMigrations implements HistoryStore.
func (s *MemoryStore) ListMigrations(_ context.Context, projectRef string) ([]Record, error) {
	return s.newestFirst(func(r Record) bool {
		return r.ProjectRef == projectRef && r.IsMigration()
	}), nil
}

func (s *MemoryStore) newestFirst(keep func(Record) bool) []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExecutedAt.After(out[j].ExecutedAt)
	})
	return out
}
