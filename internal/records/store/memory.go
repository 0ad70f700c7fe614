package store

import (
	"context"
	"sort"
	"sync"

	"archivegate/internal/records"
)

// InMemoryStore keeps each dataset's records sorted by SortKey. Inserts may
// run concurrently with scans; a scan walks a snapshot taken under the lock.
type InMemoryStore struct {
	mu       sync.RWMutex
	datasets map[string][]records.Record
	ids      map[string]map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		datasets: make(map[string][]records.Record),
		ids:      make(map[string]map[string]struct{}),
	}
}

// Put stores a record the first time its id is seen in the dataset. Records
// are immutable once fetched, so later puts of the same id are no-ops and
// the first FetchedAt keeps the record's place in the sort order.
func (s *InMemoryStore) Put(_ context.Context, r records.Record) error {
	r = r.Clone()
	r.FetchedAt = r.FetchedAt.UTC()
	key := r.SortKey()

	s.mu.Lock()
	defer s.mu.Unlock()
	seen, ok := s.ids[r.Dataset]
	if !ok {
		seen = make(map[string]struct{})
		s.ids[r.Dataset] = seen
	}
	if _, dup := seen[r.ID]; dup {
		return nil
	}
	seen[r.ID] = struct{}{}

	rows := s.datasets[r.Dataset]
	i := sort.Search(len(rows), func(i int) bool { return !rows[i].SortKey().Less(key) })
	rows = append(rows, records.Record{})
	copy(rows[i+1:], rows[i:])
	rows[i] = r
	s.datasets[r.Dataset] = rows
	return nil
}

func (s *InMemoryStore) Scan(ctx context.Context, dataset string, after *records.SortKey, fn func(records.Record) (bool, error)) error {
	s.mu.RLock()
	rows := s.datasets[dataset]
	start := 0
	if after != nil {
		start = sort.Search(len(rows), func(i int) bool { return after.Less(rows[i].SortKey()) })
	}
	snapshot := make([]records.Record, len(rows)-start)
	copy(snapshot, rows[start:])
	s.mu.RUnlock()

	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		more, err := fn(r.Clone())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// Count returns the number of records held for dataset.
func (s *InMemoryStore) Count(dataset string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datasets[dataset])
}
