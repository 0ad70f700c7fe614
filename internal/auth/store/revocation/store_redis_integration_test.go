//go:build integration

package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"archivegate/pkg/platform/sentinel"
	"archivegate/pkg/testutil/containers"
)

func TestRedisTRL(t *testing.T) {
	ctx := context.Background()
	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushAll(ctx))
	trl := NewRedisTRL(rc.Client)

	revoked, err := trl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, trl.RevokeToken(ctx, "jti-1", time.Hour))
	revoked, err = trl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	err = trl.RevokeToken(ctx, "jti-2", 0)
	require.True(t, errors.Is(err, sentinel.ErrInvalidState))

	require.NoError(t, trl.RevokeToken(ctx, "", time.Hour), "tokens without a jti cannot be revoked and are ignored")
}
