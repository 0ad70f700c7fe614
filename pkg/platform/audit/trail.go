package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultVerifyBatch = 500

// ErrInvalidEntry is returned for entries missing required fields.
var ErrInvalidEntry = errors.New("invalid audit entry")

// Trail serializes appends onto a Store and verifies chain integrity.
// Only Append takes the lock; Verify reads through the store.
type Trail struct {
	store       Store
	exporter    Exporter
	logger      *slog.Logger
	now         func() time.Time
	verifyBatch int

	mu     sync.Mutex
	loaded bool
	head   Entry
}

type Option func(*Trail)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Trail) { t.logger = logger }
}

// WithExporter hands every committed entry to e.
func WithExporter(e Exporter) Option {
	return func(t *Trail) { t.exporter = e }
}

func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

func WithVerifyBatch(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.verifyBatch = n
		}
	}
}

func NewTrail(store Store, opts ...Option) *Trail {
	t := &Trail{
		store:       store,
		now:         time.Now,
		verifyBatch: defaultVerifyBatch,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append links entry to the current head and persists it. The in-memory head
// only advances once the store has accepted the entry, so a failed write
// leaves the chain exactly as it was.
func (t *Trail) Append(ctx context.Context, entry Entry) (Entry, error) {
	if !entry.Outcome.IsValid() {
		return Entry{}, fmt.Errorf("%w: outcome %q", ErrInvalidEntry, entry.Outcome)
	}
	if entry.Action == "" {
		return Entry{}, fmt.Errorf("%w: action is required", ErrInvalidEntry)
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.loadHead(ctx); err != nil {
		return Entry{}, err
	}

	prev := GenesisHash
	if t.head.ID != 0 {
		prev = t.head.Hash
	}
	entry.ID = t.head.ID + 1
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.now()
	}
	// Postgres keeps microseconds; hashing must see what the store returns.
	entry.Timestamp = entry.Timestamp.UTC().Truncate(time.Microsecond)
	entry.PrevHash = prev
	entry.Hash = ComputeHash(prev, entry)

	if err := t.store.Append(ctx, entry); err != nil {
		// The store may have diverged from our view; reload on next append.
		t.loaded = false
		return Entry{}, fmt.Errorf("append audit entry %d: %w", entry.ID, err)
	}
	t.head = entry

	if t.exporter != nil {
		t.exporter.Export(entry)
	}
	return entry, nil
}

func (t *Trail) loadHead(ctx context.Context) error {
	if t.loaded {
		return nil
	}
	head, ok, err := t.store.Head(ctx)
	if err != nil {
		return fmt.Errorf("load audit head: %w", err)
	}
	if ok {
		t.head = head
	} else {
		t.head = Entry{}
	}
	t.loaded = true
	return nil
}

// Verify recomputes the chain over [from, to]. A zero to means the current
// head: the stored chain must reach the head this trail committed and end on
// its hash. The first entry whose link or hash does not match is reported.
func (t *Trail) Verify(ctx context.Context, from, to EntryID) (VerifyResult, error) {
	if from == 0 {
		from = 1
	}
	if to != 0 && to < from {
		return VerifyResult{}, fmt.Errorf("%w: range %d..%d", ErrInvalidEntry, from, to)
	}

	var known Entry
	if to == 0 {
		t.mu.Lock()
		if t.loaded {
			known = t.head
		}
		t.mu.Unlock()
	}

	v := &verifier{expectID: from, prevHash: GenesisHash}
	if from > 1 {
		prev, err := t.store.List(ctx, from-1, 1)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("load entry %d: %w", from-1, err)
		}
		if len(prev) == 0 || prev[0].ID != from-1 {
			return VerifyResult{Valid: false, CorruptedAt: from - 1}, nil
		}
		v.prevHash = prev[0].Hash
	}

	next := from
	for {
		if err := ctx.Err(); err != nil {
			return VerifyResult{}, err
		}
		batch, err := t.store.List(ctx, next, t.verifyBatch)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("list audit entries from %d: %w", next, err)
		}
		for _, e := range batch {
			if to != 0 && e.ID > to {
				return VerifyResult{Valid: true, Checked: v.checked}, nil
			}
			if !v.step(e) {
				t.logCorruption(ctx, v.expectID)
				return VerifyResult{Valid: false, CorruptedAt: v.expectID, Checked: v.checked}, nil
			}
		}
		if len(batch) < t.verifyBatch {
			break
		}
		next = batch[len(batch)-1].ID + 1
	}

	if to != 0 && v.expectID <= to {
		// Requested range runs past the stored entries.
		t.logCorruption(ctx, v.expectID)
		return VerifyResult{Valid: false, CorruptedAt: v.expectID, Checked: v.checked}, nil
	}
	if known.ID >= from && (v.expectID <= known.ID || (v.expectID == known.ID+1 && v.prevHash != known.Hash)) {
		at := min(v.expectID, known.ID)
		t.logCorruption(ctx, at)
		return VerifyResult{Valid: false, CorruptedAt: at, Checked: v.checked}, nil
	}
	return VerifyResult{Valid: true, Checked: v.checked}, nil
}

func (t *Trail) logCorruption(ctx context.Context, at EntryID) {
	if t.logger == nil {
		return
	}
	t.logger.ErrorContext(ctx, "audit chain verification failed",
		"event", "audit_chain_corrupted",
		"log_type", "audit",
		"corrupted_at", at,
	)
}

// Head returns the last committed entry, if any.
func (t *Trail) Head(ctx context.Context) (Entry, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.loadHead(ctx); err != nil {
		return Entry{}, false, err
	}
	return t.head, t.head.ID != 0, nil
}
