package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"archivegate/internal/privacy/ledger/models"
)

// InMemoryStore keeps one account per (requester, dataset), each behind its
// own mutex so unrelated accounts never contend.
type InMemoryStore struct {
	mu       sync.Mutex
	accounts map[models.Key]*account
}

type reservation struct {
	epsilon    float64
	reservedAt time.Time
}

type account struct {
	mu           sync.Mutex
	reservations map[string]reservation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{accounts: make(map[models.Key]*account)}
}

func (s *InMemoryStore) account(key models.Key) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[key]
	if a == nil {
		a = &account{reservations: make(map[string]reservation)}
		s.accounts[key] = a
	}
	return a
}

// spent sums live reservations, pruning those before cutoff. Caller holds a.mu.
func (a *account) spent(cutoff time.Time) float64 {
	total := 0.0
	for id, r := range a.reservations {
		if !cutoff.IsZero() && !r.reservedAt.After(cutoff) {
			delete(a.reservations, id)
			continue
		}
		total += r.epsilon
	}
	return total
}

func (s *InMemoryStore) Reserve(_ context.Context, alloc models.Allocation, policy models.Policy) (float64, error) {
	a := s.account(alloc.Key())
	a.mu.Lock()
	defer a.mu.Unlock()

	spent := a.spent(policy.Cutoff(alloc.ReservedAt))
	if _, dup := a.reservations[alloc.ID]; dup {
		return spent, nil
	}
	if !models.Fits(spent, alloc.Epsilon, policy.EpsilonCap) {
		return spent, fmt.Errorf("spent %.6f + %.6f > cap %.6f: %w", spent, alloc.Epsilon, policy.EpsilonCap, models.ErrExceeded)
	}
	a.reservations[alloc.ID] = reservation{epsilon: alloc.Epsilon, reservedAt: alloc.ReservedAt}
	return spent + alloc.Epsilon, nil
}

func (s *InMemoryStore) Release(_ context.Context, alloc models.Allocation) (bool, error) {
	a := s.account(alloc.Key())
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.reservations[alloc.ID]; !ok {
		return false, nil
	}
	delete(a.reservations, alloc.ID)
	return true, nil
}

func (s *InMemoryStore) Spent(_ context.Context, key models.Key, policy models.Policy, now time.Time) (float64, error) {
	a := s.account(key)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spent(policy.Cutoff(now)), nil
}
