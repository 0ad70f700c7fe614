package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, 500, cfg.Query.MaxLimit)
	assert.Equal(t, 3, cfg.Crawler.Settings.SuspectThreshold)
	assert.Equal(t, 120, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ARCHIVEGATE_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("CRAWLER_SUSPECT_THRESHOLD", "5")
	t.Setenv("CRAWLER_COOLING_INTERVAL", "1m")
	t.Setenv("QUERY_MAX_LIMIT", "not-a-number")
	t.Setenv("RATELIMIT_REQUESTS", "0")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Crawler.Settings.SuspectThreshold)
	assert.Equal(t, time.Minute, cfg.Crawler.Settings.CoolingInterval)
	assert.Equal(t, 500, cfg.Query.MaxLimit, "unparseable values fall back")
	assert.Zero(t, cfg.RateLimit.Requests)
}

func TestRegulatedModeRejectsDevSecrets(t *testing.T) {
	t.Setenv("REGULATED_MODE", "true")
	cfg := FromEnv()
	require.ErrorContains(t, cfg.Validate(), "JWT_SIGNING_KEY")

	t.Setenv("JWT_SIGNING_KEY", "k1")
	t.Setenv("QUERY_CURSOR_KEY", "k2")
	t.Setenv("REDACTION_HASH_SECRET", "k3")
	cfg = FromEnv()
	require.ErrorContains(t, cfg.Validate(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/archivegate")
	require.NoError(t, FromEnv().Validate())
}
