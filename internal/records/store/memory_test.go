package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivegate/internal/records"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func rec(id string, offset time.Duration) records.Record {
	return records.Record{
		ID:           id,
		Dataset:      "fbi",
		SourceAgency: "fbi",
		FetchedAt:    base.Add(offset),
		Fields:       []records.Field{{Name: "title", Value: records.String("file " + id)}},
	}
}

func collect(t *testing.T, s *InMemoryStore, after *records.SortKey) []string {
	t.Helper()
	var ids []string
	err := s.Scan(context.Background(), "fbi", after, func(r records.Record) (bool, error) {
		ids = append(ids, r.ID)
		return true, nil
	})
	require.NoError(t, err)
	return ids
}

func TestInMemoryStore_ScanOrder(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Put(ctx, rec("c", 2*time.Second)))
	require.NoError(t, s.Put(ctx, rec("b", time.Second)))
	require.NoError(t, s.Put(ctx, rec("a", time.Second)))

	assert.Equal(t, []string{"a", "b", "c"}, collect(t, s, nil))

	after := rec("a", time.Second).SortKey()
	assert.Equal(t, []string{"b", "c"}, collect(t, s, &after))
}

func TestInMemoryStore_RefetchKeepsFirstCopy(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for i := range 3 {
		again := rec("rec-1", time.Duration(i)*time.Hour)
		again.Fields[0].Value = records.String(fmt.Sprintf("pass %d", i))
		require.NoError(t, s.Put(ctx, again))
	}
	require.NoError(t, s.Put(ctx, rec("rec-2", 30*time.Minute)))

	assert.Equal(t, 2, s.Count("fbi"))
	var got []records.Record
	require.NoError(t, s.Scan(ctx, "fbi", nil, func(r records.Record) (bool, error) {
		got = append(got, r)
		return true, nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, "rec-1", got[0].ID)
	assert.Equal(t, base, got[0].FetchedAt)
	title, _ := got[0].Get("title")
	assert.Equal(t, "pass 0", title.Str)
	assert.Equal(t, "rec-2", got[1].ID)
}

func TestInMemoryStore_SameIDInOtherDataset(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	other := rec("a", 0)
	other.Dataset = "cia"
	require.NoError(t, s.Put(ctx, rec("a", 0)))
	require.NoError(t, s.Put(ctx, other))

	assert.Equal(t, 1, s.Count("fbi"))
	assert.Equal(t, 1, s.Count("cia"))
}

func TestInMemoryStore_StopsEarly(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for i := range 5 {
		require.NoError(t, s.Put(ctx, rec(fmt.Sprint(i), time.Duration(i)*time.Second)))
	}
	seen := 0
	require.NoError(t, s.Scan(ctx, "fbi", nil, func(records.Record) (bool, error) {
		seen++
		return seen < 2, nil
	}))
	assert.Equal(t, 2, seen)
}

func TestInMemoryStore_ConcurrentPutDuringScan(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for i := range 100 {
		require.NoError(t, s.Put(ctx, rec(fmt.Sprintf("%03d", i), time.Duration(i)*time.Second)))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 100; i < 200; i++ {
			_ = s.Put(ctx, rec(fmt.Sprintf("%03d", i), time.Duration(i)*time.Second))
		}
	}()

	ids := collect(t, s, nil)
	wg.Wait()
	assert.GreaterOrEqual(t, len(ids), 100)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}
