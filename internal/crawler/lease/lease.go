// Package lease hands out exclusive, expiring checkouts of crawl sessions so
// only one worker drives a given agency/credential pair at a time.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"archivegate/internal/crawler/models"
	"archivegate/pkg/platform/sentinel"
)

// Lease is proof of exclusive ownership until ExpiresAt. Token fences
// release and renewal so a worker whose lease lapsed cannot free a
// successor's checkout.
type Lease struct {
	Key       models.SessionKey
	Token     string
	ExpiresAt time.Time
}

// InMemoryManager is the process-local lease manager.
type InMemoryManager struct {
	mu     sync.Mutex
	leases map[models.SessionKey]Lease
	now    func() time.Time
}

type MemoryOption func(*InMemoryManager)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) MemoryOption {
	return func(m *InMemoryManager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewInMemoryManager(opts ...MemoryOption) *InMemoryManager {
	m := &InMemoryManager{
		leases: make(map[models.SessionKey]Lease),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns sentinel.ErrLeaseHeld while another unexpired lease exists.
func (m *InMemoryManager) Acquire(_ context.Context, key models.SessionKey, ttl time.Duration) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if held, ok := m.leases[key]; ok && now.Before(held.ExpiresAt) {
		return nil, sentinel.ErrLeaseHeld
	}
	l := Lease{Key: key, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	m.leases[key] = l
	return &l, nil
}

// Renew extends a lease the caller still owns.
func (m *InMemoryManager) Renew(_ context.Context, l *Lease, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	held, ok := m.leases[l.Key]
	if !ok || held.Token != l.Token || !now.Before(held.ExpiresAt) {
		return sentinel.ErrExpired
	}
	held.ExpiresAt = now.Add(ttl)
	m.leases[l.Key] = held
	l.ExpiresAt = held.ExpiresAt
	return nil
}

// Release is a no-op when the lease already changed hands.
func (m *InMemoryManager) Release(_ context.Context, l *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.leases[l.Key]; ok && held.Token == l.Token {
		delete(m.leases, l.Key)
	}
	return nil
}
