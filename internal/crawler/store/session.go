// Package store persists crawl session state between runs, so a revoked
// session stays revoked across restarts until an operator rotates it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"archivegate/internal/crawler/models"
	"archivegate/pkg/platform/sentinel"
)

const sessionKeyPrefix = "crawler:session:"

type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[models.SessionKey]models.Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[models.SessionKey]models.Session)}
}

// Get returns sentinel.ErrNotFound for a session that was never saved.
func (s *InMemoryStore) Get(_ context.Context, key models.SessionKey) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &session, nil
}

func (s *InMemoryStore) Save(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Key()] = *session
	return nil
}

// RedisStore keeps each session as JSON under
// `crawler:session:<agency>:<cred>`, without expiry.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load crawl session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode crawl session: %w", err)
	}
	return &session, nil
}

func (s *RedisStore) Save(ctx context.Context, session *models.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode crawl session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+session.Key().String(), raw, 0).Err(); err != nil {
		return fmt.Errorf("save crawl session: %w", err)
	}
	return nil
}
