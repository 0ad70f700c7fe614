//go:build integration

package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"archivegate/pkg/testutil/containers"
)

// =============================================================================
// Redis Bucket Store Suite
// =============================================================================
// Justification for integration tests: the window is pruned and counted
// inside one Lua script, so concurrent callers must never overshoot.

type RedisBucketStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisBucketStore
	ctx   context.Context
}

func TestRedisBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = NewRedisBucketStore(s.redis.Client)
	s.ctx = context.Background()
}

func (s *RedisBucketStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisBucketStoreSuite) TestAllowUpToLimit() {
	for i := range testLimit {
		res, err := s.store.Allow(s.ctx, "ratelimit:v1:10.0.0.1", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(testLimit-1-i, res.Remaining)
	}

	res, err := s.store.Allow(s.ctx, "ratelimit:v1:10.0.0.1", testLimit, testWindow)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.WithinDuration(time.Now().Add(testWindow), res.ResetAt, 5*time.Second)

	s.Require().NoError(s.store.Reset(s.ctx, "ratelimit:v1:10.0.0.1"))
	res, err = s.store.Allow(s.ctx, "ratelimit:v1:10.0.0.1", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *RedisBucketStoreSuite) TestConcurrentCallersNeverOvershoot() {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Allow(s.ctx, "ratelimit:v1:10.0.0.2", testLimit, testWindow)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Allowed {
				allowed++
			}
		}()
	}
	wg.Wait()
	s.Equal(testLimit, allowed)
}

func (s *RedisBucketStoreSuite) TestWindowSlides() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "ratelimit:v1:10.0.0.3", testLimit, 200*time.Millisecond)
		s.Require().NoError(err)
	}
	s.Eventually(func() bool {
		res, err := s.store.Allow(s.ctx, "ratelimit:v1:10.0.0.3", testLimit, 200*time.Millisecond)
		return err == nil && res.Allowed
	}, 2*time.Second, 50*time.Millisecond)
}
