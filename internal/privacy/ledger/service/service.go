// Package service is the privacy budget ledger. Reservations are atomic
// compare-and-increment operations against a per-dataset policy; a denied
// reservation has no side effect.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"archivegate/internal/privacy/ledger/models"
	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/requestcontext"
)

// Store is the persistence port. Reserve must be atomic per account and
// return models.ErrExceeded (wrapped) without recording anything when the
// allocation does not fit.
type Store interface {
	Reserve(ctx context.Context, alloc models.Allocation, policy models.Policy) (spent float64, err error)
	Release(ctx context.Context, alloc models.Allocation) (released bool, err error)
	Spent(ctx context.Context, key models.Key, policy models.Policy, now time.Time) (float64, error)
}

type Service struct {
	store    Store
	policies models.Policies
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store Store, policies models.Policies, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("budget store is required")
	}
	for id, p := range policies {
		if id != p.DatasetID {
			return nil, fmt.Errorf("policy keyed %q names dataset %q", id, p.DatasetID)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	s := &Service{store: store, policies: policies, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) policy(datasetID string) (models.Policy, error) {
	p, ok := s.policies[datasetID]
	if !ok {
		return models.Policy{}, dErrors.New(dErrors.CodeForbidden, "no privacy budget policy for dataset "+datasetID)
	}
	return p, nil
}

// Reserve grants an allocation of epsilon or fails with budget_exceeded.
func (s *Service) Reserve(ctx context.Context, requesterID, datasetID string, epsilon float64) (*models.Allocation, error) {
	if requesterID == "" || datasetID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "requester and dataset are required")
	}
	if !(epsilon > 0) || math.IsInf(epsilon, 0) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "epsilon must be a positive finite number")
	}
	policy, err := s.policy(datasetID)
	if err != nil {
		return nil, err
	}

	alloc := models.Allocation{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		DatasetID:   datasetID,
		Epsilon:     epsilon,
		ReservedAt:  requestcontext.NowFrom(ctx, s.now).UTC(),
	}
	spent, err := s.store.Reserve(ctx, alloc, policy)
	if errors.Is(err, models.ErrExceeded) {
		if s.metrics != nil {
			s.metrics.IncReservation(datasetID, "exceeded")
		}
		s.logAudit(ctx, "privacy_budget_exceeded", alloc, spent, policy)
		return nil, dErrors.New(dErrors.CodeBudgetExceeded,
			fmt.Sprintf("privacy budget for %s exhausted: %.4f of %.4f spent", datasetID, spent, policy.EpsilonCap))
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "reserve privacy budget")
	}
	if s.metrics != nil {
		s.metrics.IncReservation(datasetID, "granted")
		s.metrics.AddEpsilon(datasetID, epsilon)
	}
	return &alloc, nil
}

// Release returns an allocation's spend. It is safe to call more than once.
func (s *Service) Release(ctx context.Context, alloc *models.Allocation) error {
	if alloc == nil {
		return nil
	}
	released, err := s.store.Release(ctx, *alloc)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "release privacy budget")
	}
	if released {
		if s.metrics != nil {
			s.metrics.IncRelease(alloc.DatasetID)
		}
		s.logAudit(ctx, "privacy_budget_released", *alloc, 0, models.Policy{})
	}
	return nil
}

// Get reports the current state of an account.
func (s *Service) Get(ctx context.Context, requesterID, datasetID string) (*models.Budget, error) {
	policy, err := s.policy(datasetID)
	if err != nil {
		return nil, err
	}
	key := models.Key{RequesterID: requesterID, DatasetID: datasetID}
	spent, err := s.store.Spent(ctx, key, policy, requestcontext.NowFrom(ctx, s.now).UTC())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read privacy budget")
	}
	return &models.Budget{
		RequesterID:  requesterID,
		DatasetID:    datasetID,
		EpsilonCap:   policy.EpsilonCap,
		EpsilonSpent: spent,
		Window:       policy.Window,
	}, nil
}

func (s *Service) logAudit(ctx context.Context, event string, alloc models.Allocation, spent float64, policy models.Policy) {
	if s.logger == nil {
		return
	}
	s.logger.InfoContext(ctx, event,
		"event", event,
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
		"requester_id", alloc.RequesterID,
		"dataset_id", alloc.DatasetID,
		"allocation_id", alloc.ID,
		"epsilon", alloc.Epsilon,
		"epsilon_spent", spent,
		"epsilon_cap", policy.EpsilonCap,
	)
}
