package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"archivegate/internal/privacy/ledger/models"
	"archivegate/internal/privacy/ledger/store"
	dErrors "archivegate/pkg/domain-errors"
)

// =============================================================================
// Privacy Budget Ledger Test Suite
// =============================================================================
// Justification for unit tests: the cap must never be overrun under
// concurrency, denials must have no side effects and rolling windows must
// age out spend at exact boundaries.

type LedgerSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	metrics *Metrics
	svc     *Service
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.metrics = NewMetrics(prometheus.NewRegistry())
	policies := models.Policies{
		"fbi-vault": {DatasetID: "fbi-vault", EpsilonCap: 0.1, Window: models.WindowLifetime},
		"nara-jfk":  {DatasetID: "nara-jfk", EpsilonCap: 1.0, Window: models.WindowRolling, Duration: time.Hour},
	}
	var err error
	s.svc, err = New(store.NewInMemoryStore(), policies, WithMetrics(s.metrics), WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *LedgerSuite) TestNew() {
	s.Run("nil store rejected", func() {
		_, err := New(nil, models.Policies{})
		s.Error(err)
	})

	s.Run("policy without explicit window rejected", func() {
		_, err := New(store.NewInMemoryStore(), models.Policies{
			"x": {DatasetID: "x", EpsilonCap: 1},
		})
		s.Error(err)
	})
}

// =============================================================================
// Reserve Tests
// =============================================================================

func (s *LedgerSuite) TestReserveDeniedWithoutSideEffect() {
	_, err := s.svc.Reserve(s.ctx, "alice", "fbi-vault", 0.05)
	s.Require().NoError(err)

	_, err = s.svc.Reserve(s.ctx, "alice", "fbi-vault", 0.1)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeBudgetExceeded))

	b, err := s.svc.Get(s.ctx, "alice", "fbi-vault")
	s.Require().NoError(err)
	s.InDelta(0.05, b.EpsilonSpent, 1e-12)
	s.InDelta(0.05, b.Remaining(), 1e-12)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Reservations.WithLabelValues("fbi-vault", "exceeded")))
}

func (s *LedgerSuite) TestReserveExactlyToCap() {
	_, err := s.svc.Reserve(s.ctx, "alice", "fbi-vault", 0.05)
	s.Require().NoError(err)
	_, err = s.svc.Reserve(s.ctx, "alice", "fbi-vault", 0.05)
	s.Require().NoError(err, "spent == cap is allowed")
	_, err = s.svc.Reserve(s.ctx, "alice", "fbi-vault", 0.0001)
	s.True(dErrors.HasCode(err, dErrors.CodeBudgetExceeded))
}

func (s *LedgerSuite) TestAccountsAreIsolated() {
	_, err := s.svc.Reserve(s.ctx, "alice", "fbi-vault", 0.1)
	s.Require().NoError(err)
	_, err = s.svc.Reserve(s.ctx, "bob", "fbi-vault", 0.1)
	s.NoError(err)
}

func (s *LedgerSuite) TestReserveValidation() {
	s.Run("unknown dataset has no implicit policy", func() {
		_, err := s.svc.Reserve(s.ctx, "alice", "unknown", 0.01)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("non-positive epsilon", func() {
		_, err := s.svc.Reserve(s.ctx, "alice", "fbi-vault", 0)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("missing requester", func() {
		_, err := s.svc.Reserve(s.ctx, "", "fbi-vault", 0.01)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *LedgerSuite) TestConcurrentReservesNeverOverrunCap() {
	for round := range 20 {
		requester := "racer-" + string(rune('a'+round))
		const goroutines = 32
		var (
			wg      sync.WaitGroup
			granted atomic.Int32
			denied  atomic.Int32
		)
		wg.Add(goroutines)
		for range goroutines {
			go func() {
				defer wg.Done()
				_, err := s.svc.Reserve(s.ctx, requester, "nara-jfk", 0.6)
				if err == nil {
					granted.Add(1)
					return
				}
				if dErrors.HasCode(err, dErrors.CodeBudgetExceeded) {
					denied.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Equal(int32(1), granted.Load(), "round %d", round)
		s.Equal(int32(goroutines-1), denied.Load(), "round %d", round)
	}
}

// =============================================================================
// Release Tests
// =============================================================================

func (s *LedgerSuite) TestReleaseIsIdempotent() {
	alloc, err := s.svc.Reserve(s.ctx, "alice", "fbi-vault", 0.08)
	s.Require().NoError(err)

	s.Require().NoError(s.svc.Release(s.ctx, alloc))
	s.Require().NoError(s.svc.Release(s.ctx, alloc))

	b, err := s.svc.Get(s.ctx, "alice", "fbi-vault")
	s.Require().NoError(err)
	s.Zero(b.EpsilonSpent)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Releases.WithLabelValues("fbi-vault")))

	s.NoError(s.svc.Release(s.ctx, nil))
}

// =============================================================================
// Window Tests
// =============================================================================

func (s *LedgerSuite) TestRollingWindowAgesOutSpend() {
	_, err := s.svc.Reserve(s.ctx, "alice", "nara-jfk", 0.9)
	s.Require().NoError(err)

	s.now = s.now.Add(30 * time.Minute)
	_, err = s.svc.Reserve(s.ctx, "alice", "nara-jfk", 0.2)
	s.True(dErrors.HasCode(err, dErrors.CodeBudgetExceeded))

	s.now = s.now.Add(31 * time.Minute)
	b, err := s.svc.Get(s.ctx, "alice", "nara-jfk")
	s.Require().NoError(err)
	s.Zero(b.EpsilonSpent)

	_, err = s.svc.Reserve(s.ctx, "alice", "nara-jfk", 0.2)
	s.NoError(err)
}

func (s *LedgerSuite) TestLifetimeWindowNeverForgets() {
	_, err := s.svc.Reserve(s.ctx, "alice", "fbi-vault", 0.1)
	s.Require().NoError(err)
	s.now = s.now.Add(365 * 24 * time.Hour)
	_, err = s.svc.Reserve(s.ctx, "alice", "fbi-vault", 0.01)
	s.True(dErrors.HasCode(err, dErrors.CodeBudgetExceeded))
}
