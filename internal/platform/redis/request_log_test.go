//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformredis "archivegate/internal/platform/redis"
	"archivegate/pkg/testutil/containers"
)

func TestRequestLogAppendsPerDay(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	log := platformredis.NewRequestLog(rc.Client)
	day := time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
	next := day.Add(2 * time.Minute)

	require.NoError(t, log.Append(ctx, platformredis.RequestEntry{Timestamp: day.Unix(), Method: "POST", Path: "/v1/query", Status: 200, Username: "analyst-7"}))
	require.NoError(t, log.Append(ctx, platformredis.RequestEntry{Timestamp: day.Unix(), Method: "GET", Path: "/health", Status: 200}))
	require.NoError(t, log.Append(ctx, platformredis.RequestEntry{Timestamp: next.Unix(), Method: "GET", Path: "/health", Status: 200}))

	entries, err := log.Day(ctx, day)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "analyst-7", entries[0].Username)
	assert.Equal(t, "/health", entries[1].Path)

	ttl, err := rc.Client.TTL(ctx, "request_log:2024-03-09").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 6*24*time.Hour)

	entries, err = log.Day(ctx, next)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
