package memory

import (
	"context"
	"sort"
	"sync"

	audit "archivegate/pkg/platform/audit"
	"archivegate/pkg/platform/sentinel"
)

// InMemoryStore keeps the trail in an append-only slice indexed by ID-1.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID != audit.EntryID(len(s.entries)+1) {
		return sentinel.ErrConflict
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) Head(_ context.Context) (audit.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return audit.Entry{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}

func (s *InMemoryStore) List(_ context.Context, from audit.EntryID, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].ID >= from })
	end := len(s.entries)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]audit.Entry, end-start)
	copy(out, s.entries[start:end])
	return out, nil
}

// Len returns the number of stored entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
