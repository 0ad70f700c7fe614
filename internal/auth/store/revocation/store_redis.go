package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"archivegate/pkg/platform/sentinel"
)

const keyPrefix = "trl:jti:"

// RedisTRL shares revocations across instances. Entries expire on their own
// once the token could no longer validate anyway.
type RedisTRL struct {
	client redis.UniversalClient
}

func NewRedisTRL(client redis.UniversalClient) *RedisTRL {
	return &RedisTRL{client: client}
}

// RevokeToken ignores tokens without a jti. ttl should cover the token's
// remaining lifetime.
func (t *RedisTRL) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	switch {
	case jti == "":
		return nil
	case ttl <= 0:
		return fmt.Errorf("revoke %s: ttl must be positive: %w", jti, sentinel.ErrInvalidState)
	}
	return t.client.Set(ctx, keyPrefix+jti, 1, ttl).Err()
}

func (t *RedisTRL) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	n, err := t.client.Exists(ctx, keyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n == 1, nil
}
