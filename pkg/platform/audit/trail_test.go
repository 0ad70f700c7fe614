package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	audit "archivegate/pkg/platform/audit"
	"archivegate/pkg/platform/audit/store/memory"
)

// =============================================================================
// Audit Trail Test Suite
// =============================================================================
// Justification for unit tests: chain linking, tamper detection and the
// "head advances only after a durable write" rule are invisible at the HTTP
// layer and must hold for every store implementation.

type TrailSuite struct {
	suite.Suite
	ctx   context.Context
	store *memory.InMemoryStore
	trail *audit.Trail
}

func TestTrailSuite(t *testing.T) {
	suite.Run(t, new(TrailSuite))
}

func (s *TrailSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewInMemoryStore()
	s.trail = audit.NewTrail(s.store)
}

func queryEntry(actor string) audit.Entry {
	return audit.Entry{
		Action:          audit.ActionQuery,
		Actor:           actor,
		QueryDescriptor: audit.DescriptorHash("dataset=fbi"),
		RuleSetVersion:  "v1",
		EpsilonConsumed: 0.05,
		Outcome:         audit.OutcomeSuccess,
	}
}

// =============================================================================
// Append Tests
// =============================================================================

func (s *TrailSuite) TestAppend() {
	s.Run("first entry links to genesis", func() {
		e, err := s.trail.Append(s.ctx, queryEntry("alice"))
		s.Require().NoError(err)
		s.Equal(audit.EntryID(1), e.ID)
		s.Equal(audit.GenesisHash, e.PrevHash)
		s.Equal(audit.ComputeHash(audit.GenesisHash, e), e.Hash)
	})

	s.Run("subsequent entries link to previous hash", func() {
		first, _, err := s.trail.Head(s.ctx)
		s.Require().NoError(err)
		e, err := s.trail.Append(s.ctx, queryEntry("bob"))
		s.Require().NoError(err)
		s.Equal(first.ID+1, e.ID)
		s.Equal(first.Hash, e.PrevHash)
	})

	s.Run("invalid outcome rejected without consuming an id", func() {
		bad := queryEntry("carol")
		bad.Outcome = "maybe"
		_, err := s.trail.Append(s.ctx, bad)
		s.ErrorIs(err, audit.ErrInvalidEntry)
		s.Equal(2, s.store.Len())
	})

	s.Run("severity defaults to info", func() {
		e, err := s.trail.Append(s.ctx, queryEntry("dave"))
		s.Require().NoError(err)
		s.Equal(audit.SeverityInfo, e.Severity)
	})
}

func (s *TrailSuite) TestAppendFailureLeavesChainUntouched() {
	flaky := &flakyStore{InMemoryStore: memory.NewInMemoryStore()}
	exp := &recordingExporter{}
	trail := audit.NewTrail(flaky, audit.WithExporter(exp))

	_, err := trail.Append(s.ctx, queryEntry("alice"))
	s.Require().NoError(err)

	flaky.fail = true
	_, err = trail.Append(s.ctx, queryEntry("bob"))
	s.Require().Error(err)

	flaky.fail = false
	e, err := trail.Append(s.ctx, queryEntry("carol"))
	s.Require().NoError(err)
	s.Equal(audit.EntryID(2), e.ID, "failed append must not consume an id")

	res, err := trail.Verify(s.ctx, 1, 0)
	s.Require().NoError(err)
	s.True(res.Valid)
	s.Len(exp.entries, 2, "only committed entries are exported")
}

func (s *TrailSuite) TestConcurrentAppendsProduceContiguousChain() {
	const writers = 64
	var wg sync.WaitGroup
	wg.Add(writers)
	for range writers {
		go func() {
			defer wg.Done()
			_, err := s.trail.Append(s.ctx, queryEntry("concurrent"))
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.Equal(writers, s.store.Len())
	res, err := s.trail.Verify(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.True(res.Valid)
	s.Equal(writers, res.Checked)
}

// =============================================================================
// Verify Tests
// =============================================================================

func (s *TrailSuite) TestVerifyDetectsTamperingInLargeChain() {
	const n = 10_000
	tamper := &tamperStore{InMemoryStore: memory.NewInMemoryStore()}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	trail := audit.NewTrail(tamper, audit.WithVerifyBatch(256), audit.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}))
	for range n {
		_, err := trail.Append(s.ctx, queryEntry("bulk"))
		s.Require().NoError(err)
	}

	res, err := trail.Verify(s.ctx, 1, n)
	s.Require().NoError(err)
	s.Require().True(res.Valid)

	for _, k := range []audit.EntryID{1, 257, 4242, n} {
		tamper.edit(k, func(e *audit.Entry) { e.Reason = "rewritten" })
		res, err := trail.Verify(s.ctx, 1, n)
		s.Require().NoError(err)
		s.False(res.Valid)
		s.Equal(k, res.CorruptedAt, "tampered entry %d", k)
		tamper.restore(k)
	}
}

func (s *TrailSuite) TestVerifyDetectsRelinkedHash() {
	tamper := &tamperStore{InMemoryStore: memory.NewInMemoryStore()}
	trail := audit.NewTrail(tamper)
	for range 5 {
		_, err := trail.Append(s.ctx, queryEntry("x"))
		s.Require().NoError(err)
	}

	// Rewriting entry 3 and recomputing its own hash still breaks entry 4's link.
	tamper.edit(3, func(e *audit.Entry) {
		e.EpsilonConsumed = 0
		e.Hash = audit.ComputeHash(e.PrevHash, *e)
	})
	res, err := trail.Verify(s.ctx, 1, 5)
	s.Require().NoError(err)
	s.False(res.Valid)
	s.Equal(audit.EntryID(4), res.CorruptedAt)
}

func (s *TrailSuite) TestVerifyRanges() {
	for range 10 {
		_, err := s.trail.Append(s.ctx, queryEntry("r"))
		s.Require().NoError(err)
	}

	s.Run("sub range starting mid-chain", func() {
		res, err := s.trail.Verify(s.ctx, 4, 7)
		s.Require().NoError(err)
		s.True(res.Valid)
		s.Equal(4, res.Checked)
	})

	s.Run("range past the head reports the first missing entry", func() {
		res, err := s.trail.Verify(s.ctx, 1, 12)
		s.Require().NoError(err)
		s.False(res.Valid)
		s.Equal(audit.EntryID(11), res.CorruptedAt)
	})

	s.Run("inverted range rejected", func() {
		_, err := s.trail.Verify(s.ctx, 5, 2)
		s.Error(err)
	})
}

func (s *TrailSuite) TestOpenEndedVerifyReachesCommittedHead() {
	lossy := &truncatingStore{InMemoryStore: memory.NewInMemoryStore()}
	trail := audit.NewTrail(lossy)
	for range 5 {
		_, err := trail.Append(s.ctx, queryEntry("t"))
		s.Require().NoError(err)
	}

	res, err := trail.Verify(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.Require().True(res.Valid)

	s.Run("store lost its newest entries", func() {
		lossy.keep(3)
		defer lossy.reset()
		res, err := trail.Verify(s.ctx, 0, 0)
		s.Require().NoError(err)
		s.False(res.Valid)
		s.Equal(audit.EntryID(4), res.CorruptedAt)
		s.Equal(3, res.Checked)
	})

	s.Run("store lost everything", func() {
		lossy.keep(0)
		defer lossy.reset()
		res, err := trail.Verify(s.ctx, 0, 0)
		s.Require().NoError(err)
		s.False(res.Valid)
		s.Equal(audit.EntryID(1), res.CorruptedAt)
	})

	s.Run("bounded range inside what remains", func() {
		lossy.keep(3)
		defer lossy.reset()
		res, err := trail.Verify(s.ctx, 2, 3)
		s.Require().NoError(err)
		s.True(res.Valid)
	})
}

func (s *TrailSuite) TestOpenEndedVerifyDetectsRewrittenHead() {
	tamper := &tamperStore{InMemoryStore: memory.NewInMemoryStore()}
	trail := audit.NewTrail(tamper)
	for range 5 {
		_, err := trail.Append(s.ctx, queryEntry("x"))
		s.Require().NoError(err)
	}

	// The last entry has no successor to expose a self-consistent rewrite.
	tamper.edit(5, func(e *audit.Entry) {
		e.Outcome = audit.OutcomeDenied
		e.Hash = audit.ComputeHash(e.PrevHash, *e)
	})
	res, err := trail.Verify(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.False(res.Valid)
	s.Equal(audit.EntryID(5), res.CorruptedAt)
}

// =============================================================================
// Test doubles
// =============================================================================

type flakyStore struct {
	*memory.InMemoryStore
	fail bool
}

func (f *flakyStore) Append(ctx context.Context, e audit.Entry) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.InMemoryStore.Append(ctx, e)
}

// tamperStore lets tests rewrite stored entries in place.
type tamperStore struct {
	*memory.InMemoryStore
	mu        sync.Mutex
	overrides map[audit.EntryID]audit.Entry
}

func (t *tamperStore) edit(id audit.EntryID, fn func(*audit.Entry)) {
	entries, _ := t.InMemoryStore.List(context.Background(), id, 1)
	e := entries[0]
	fn(&e)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.overrides == nil {
		t.overrides = map[audit.EntryID]audit.Entry{}
	}
	t.overrides[id] = e
}

func (t *tamperStore) restore(id audit.EntryID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.overrides, id)
}

func (t *tamperStore) List(ctx context.Context, from audit.EntryID, limit int) ([]audit.Entry, error) {
	entries, err := t.InMemoryStore.List(ctx, from, limit)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range entries {
		if o, ok := t.overrides[e.ID]; ok {
			entries[i] = o
		}
	}
	return entries, nil
}

type recordingExporter struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingExporter) Export(e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// truncatingStore hides entries above a limit, as a store restored from an
// older backup would.
type truncatingStore struct {
	*memory.InMemoryStore
	mu        sync.Mutex
	truncated bool
	limit     audit.EntryID
}

func (t *truncatingStore) keep(limit audit.EntryID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.truncated, t.limit = true, limit
}

func (t *truncatingStore) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.truncated = false
}

func (t *truncatingStore) List(ctx context.Context, from audit.EntryID, limit int) ([]audit.Entry, error) {
	entries, err := t.InMemoryStore.List(ctx, from, limit)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.truncated {
		return entries, nil
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.ID <= t.limit {
			kept = append(kept, e)
		}
	}
	return kept, nil
}
