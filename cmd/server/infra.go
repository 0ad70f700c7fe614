package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"archivegate/internal/platform/config"
	"archivegate/internal/platform/metrics"
	"archivegate/internal/platform/migrations"
	platformredis "archivegate/internal/platform/redis"
	ratelimit "archivegate/internal/ratelimit/middleware"
	ratelimitmodels "archivegate/internal/ratelimit/models"
	"archivegate/internal/ratelimit/store/bucket"
	httptransport "archivegate/internal/transport/http"
)

// infra holds the optional external stores. A nil field means the
// corresponding stores run in memory.
type infra struct {
	redis *platformredis.Client
	db    *sql.DB
	pool  *pgxpool.Pool
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	in.redis = rc
	if rc == nil {
		log.Warn("REDIS_URL not set; tokens, records, leases and sessions are held in memory")
	}

	if cfg.Postgres.DSN == "" {
		log.Warn("DATABASE_URL not set; audit trail and budget ledger are not durable")
		return in, nil
	}
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	in.db = db
	if err := db.PingContext(ctx); err != nil {
		in.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrations.Up(db); err != nil {
		in.Close()
		return nil, err
	}
	version, _, err := migrations.Version(db)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	log.Info("database migrated", "schema_version", version)

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	in.pool = pool
	return in, nil
}

func (in *infra) requestLog() *platformredis.RequestLog {
	return platformredis.NewRequestLog(in.redis.Client)
}

func newRateLimit(cfg config.RateLimit, in *infra, m *metrics.Metrics, log *slog.Logger) func(http.Handler) http.Handler {
	var limiter ratelimit.Limiter = bucket.NewInMemoryBucketStore()
	if in.redis != nil {
		limiter = bucket.NewRedisBucketStore(in.redis.Client)
	}
	mw := ratelimit.New(limiter, ratelimitmodels.Policy{Requests: cfg.Requests, Window: cfg.Window},
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(ratelimit.NewMetrics(m.Registry)),
	)
	return mw.PerClient("v1")
}

func (in *infra) checks() map[string]httptransport.HealthCheck {
	checks := map[string]httptransport.HealthCheck{}
	if in.redis != nil {
		checks["redis"] = in.redis.Health
	}
	if in.db != nil {
		checks["postgres"] = in.db.PingContext
	}
	return checks
}

func (in *infra) Close() {
	if in.pool != nil {
		in.pool.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
}
