//go:build integration

package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"archivegate/internal/auth/models"
	"archivegate/pkg/platform/sentinel"
	"archivegate/pkg/testutil/containers"
)

// =============================================================================
// Redis Token Store Suite
// =============================================================================
// Justification for integration tests: tokens are shared across replicas
// through `auth_token:<token>` keys whose expiry Redis enforces.

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisStore
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = NewRedisStore(s.redis.Client)
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) TestIssueAndLookup() {
	scope := models.Scope{RequesterID: "analyst-7", Datasets: []string{"fbi-vault"}, Roles: []string{models.RoleAuditor}}
	s.Require().NoError(s.store.Issue(s.ctx, "tok-1", scope, 0))

	got, err := s.store.Lookup(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.Equal("analyst-7", got.RequesterID)
	s.True(got.Allows("fbi-vault"))
	s.True(got.HasRole(models.RoleAuditor))

	ttl, err := s.redis.Client.TTL(s.ctx, tokenKeyPrefix+"tok-1").Result()
	s.Require().NoError(err)
	s.Equal(time.Duration(-1), ttl, "zero ttl keeps the token")
}

func (s *RedisStoreSuite) TestTTLIsApplied() {
	s.Require().NoError(s.store.Issue(s.ctx, "tok-ttl", models.Scope{RequesterID: "analyst-7"}, time.Hour))

	ttl, err := s.redis.Client.TTL(s.ctx, tokenKeyPrefix+"tok-ttl").Result()
	s.Require().NoError(err)
	s.Greater(ttl, 59*time.Minute)
}

func (s *RedisStoreSuite) TestUnknownAndDeletedTokens() {
	_, err := s.store.Lookup(s.ctx, "missing")
	s.True(errors.Is(err, sentinel.ErrNotFound))

	s.Require().NoError(s.store.Issue(s.ctx, "tok-del", models.Scope{RequesterID: "analyst-7"}, 0))
	s.Require().NoError(s.store.Delete(s.ctx, "tok-del"))
	_, err = s.store.Lookup(s.ctx, "tok-del")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
