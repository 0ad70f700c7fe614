package export

import (
	"sync"

	audit "archivegate/pkg/platform/audit"
)

const defaultBufferSize = 10000

// RingBuffer holds committed entries awaiting export. It never blocks the
// trail: once full, each new entry evicts the oldest.
type RingBuffer struct {
	mu      sync.Mutex
	slots   []audit.Entry
	start   int
	size    int
	dropped int64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultBufferSize
	}
	return &RingBuffer{slots: make([]audit.Entry, capacity)}
}

func (b *RingBuffer) slot(i int) int {
	return (b.start + i) % len(b.slots)
}

// Enqueue reports whether an older entry was evicted.
func (b *RingBuffer) Enqueue(entry audit.Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := b.size == len(b.slots)
	if evicted {
		b.slots[b.start] = audit.Entry{}
		b.start = b.slot(1)
		b.size--
		b.dropped++
	}
	b.slots[b.slot(b.size)] = entry
	b.size++
	return evicted
}

// DequeueBatch pops up to n entries, oldest first. Nil when empty.
func (b *RingBuffer) DequeueBatch(n int) []audit.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(n, b.size)
	if n <= 0 {
		return nil
	}
	batch := make([]audit.Entry, 0, n)
	for range n {
		batch = append(batch, b.slots[b.start])
		b.slots[b.start] = audit.Entry{}
		b.start = b.slot(1)
	}
	b.size -= n
	return batch
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped counts evictions since construction.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
