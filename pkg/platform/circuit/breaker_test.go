package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// BreakerSuite drives the breaker with a fake clock so cooldown behaviour is
// deterministic.
//
// Justification for unit tests: the exporter relies on the breaker to stop
// hammering a dead broker and to let exactly one trial call through after the
// cooldown. Those transitions are invisible from the publisher's tests.
type BreakerSuite struct {
	suite.Suite
	now time.Time
	b   *Breaker
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerSuite))
}

func (s *BreakerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.b = New("audit-export",
		WithFailureThreshold(2),
		WithSuccessThreshold(2),
		WithCooldown(10*time.Second),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *BreakerSuite) trip() {
	s.b.RecordFailure()
	_, change := s.b.RecordFailure()
	s.Require().True(change.Opened)
}

// =============================================================================
// Closed state
// =============================================================================

func (s *BreakerSuite) TestStartsClosed() {
	s.Equal("audit-export", s.b.Name())
	s.Equal(StateClosed, s.b.State())
	s.True(s.b.Allow())
}

func (s *BreakerSuite) TestSingleFailureStaysOnPrimary() {
	fallback, change := s.b.RecordFailure()
	s.False(fallback)
	s.Equal(StateChange{}, change)
	s.False(s.b.IsOpen())
}

func (s *BreakerSuite) TestSuccessClearsFailureRun() {
	s.b.RecordFailure()
	s.b.RecordSuccess()
	fallback, _ := s.b.RecordFailure()
	s.False(fallback, "failures must be consecutive to open")
}

// =============================================================================
// Open state and probing
// =============================================================================

func (s *BreakerSuite) TestOpenRejectsUntilCooldown() {
	s.trip()
	s.False(s.b.Allow())

	s.now = s.now.Add(9 * time.Second)
	s.False(s.b.Allow())
}

func (s *BreakerSuite) TestSingleProbeAfterCooldown() {
	s.trip()
	s.now = s.now.Add(10 * time.Second)

	s.True(s.b.Allow())
	s.False(s.b.Allow(), "second caller must wait for the trial result")
}

func (s *BreakerSuite) TestFailedProbeRestartsCooldown() {
	s.trip()
	s.now = s.now.Add(10 * time.Second)
	s.Require().True(s.b.Allow())

	fallback, change := s.b.RecordFailure()
	s.True(fallback)
	s.False(change.Opened, "already open")

	s.now = s.now.Add(5 * time.Second)
	s.False(s.b.Allow())
	s.now = s.now.Add(5 * time.Second)
	s.True(s.b.Allow())
}

func (s *BreakerSuite) TestClosesAfterSuccessRun() {
	s.trip()
	s.now = s.now.Add(10 * time.Second)
	s.Require().True(s.b.Allow())

	primary, change := s.b.RecordSuccess()
	s.False(primary)
	s.False(change.Closed)
	s.True(s.b.IsOpen())

	s.now = s.now.Add(10 * time.Second)
	s.Require().True(s.b.Allow())
	primary, change = s.b.RecordSuccess()
	s.True(primary)
	s.True(change.Closed)
	s.Equal(StateClosed, s.b.State())
	s.True(s.b.Allow())
}

func (s *BreakerSuite) TestResetClosesImmediately() {
	s.trip()
	s.b.Reset()
	s.True(s.b.Allow())
	fallback, _ := s.b.RecordFailure()
	s.False(fallback)
}

// =============================================================================
// Concurrency
// =============================================================================

func (s *BreakerSuite) TestConcurrentFailuresOpenOnce() {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := s.b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, opened)
	s.True(s.b.IsOpen())
}

func TestDefaults(t *testing.T) {
	b := New("defaults")
	for i := 0; i < 4; i++ {
		if fallback, _ := b.RecordFailure(); fallback {
			t.Fatalf("opened after %d failures, want 5", i+1)
		}
	}
	if fallback, _ := b.RecordFailure(); !fallback {
		t.Fatal("expected breaker to open on the fifth failure")
	}
}
