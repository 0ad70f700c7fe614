package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"archivegate/internal/crawler/models"
	"archivegate/pkg/platform/sentinel"
)

const leaseKeyPrefix = "crawler:lease:"

// RedisManager stores each lease as `crawler:lease:<agency>:<cred>` holding
// the owner token, set with NX and a millisecond TTL.
type RedisManager struct {
	client redis.UniversalClient
}

func NewRedisManager(client redis.UniversalClient) *RedisManager {
	return &RedisManager{client: client}
}

// KEYS: lease. ARGV: token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// KEYS: lease. ARGV: token, ttl_ms.
var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

func (m *RedisManager) Acquire(ctx context.Context, key models.SessionKey, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, leaseKeyPrefix+key.String(), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, sentinel.ErrLeaseHeld
	}
	return &Lease{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (m *RedisManager) Renew(ctx context.Context, l *Lease, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, m.client, []string{leaseKeyPrefix + l.Key.String()}, l.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n == 0 {
		return sentinel.ErrExpired
	}
	l.ExpiresAt = time.Now().Add(ttl)
	return nil
}

func (m *RedisManager) Release(ctx context.Context, l *Lease) error {
	if err := releaseScript.Run(ctx, m.client, []string{leaseKeyPrefix + l.Key.String()}, l.Token).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
