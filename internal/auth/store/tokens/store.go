// Package tokens stores opaque API tokens and the scope each one grants.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"archivegate/internal/auth/models"
	"archivegate/pkg/platform/sentinel"
)

const tokenKeyPrefix = "auth_token:"

// RedisStore resolves `auth_token:<token>` to a JSON scope.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Issue stores a scope for token. A zero ttl keeps it until deleted.
func (s *RedisStore) Issue(ctx context.Context, token string, scope models.Scope, ttl time.Duration) error {
	raw, err := json.Marshal(scope)
	if err != nil {
		return fmt.Errorf("encode scope: %w", err)
	}
	return s.client.Set(ctx, tokenKeyPrefix+token, raw, ttl).Err()
}

// Lookup returns sentinel.ErrNotFound for unknown or expired tokens.
func (s *RedisStore) Lookup(ctx context.Context, token string) (*models.Scope, error) {
	raw, err := s.client.Get(ctx, tokenKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	var scope models.Scope
	if err := json.Unmarshal(raw, &scope); err != nil {
		return nil, fmt.Errorf("decode scope: %w", err)
	}
	return &scope, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, tokenKeyPrefix+token).Err()
}

// InMemoryStore is the process-local equivalent of RedisStore.
type InMemoryStore struct {
	mu     sync.RWMutex
	scopes map[string]models.Scope
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{scopes: make(map[string]models.Scope)}
}

func (s *InMemoryStore) Issue(_ context.Context, token string, scope models.Scope, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[token] = scope
	return nil
}

func (s *InMemoryStore) Lookup(_ context.Context, token string) (*models.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scope, ok := s.scopes[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &scope, nil
}

func (s *InMemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, token)
	return nil
}
