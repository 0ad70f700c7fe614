// Package redis connects the optional shared Redis and hosts the request log.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"archivegate/internal/platform/config"
)

// Client is the process-wide Redis connection.
type Client struct {
	*redis.Client
}

// New returns nil, nil without a URL; callers then keep their stores in
// memory.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	rc := redis.NewClient(opts)
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{Client: rc}, nil
}

// options overlays the pool settings on the URL; zero values keep the
// driver's defaults.
func options(cfg config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	setPositive(&opts.PoolSize, cfg.PoolSize)
	setPositive(&opts.MinIdleConns, cfg.MinIdleConns)
	setPositive(&opts.DialTimeout, cfg.DialTimeout)
	setPositive(&opts.ReadTimeout, cfg.ReadTimeout)
	setPositive(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func setPositive[T ~int | ~int64](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// Health backs the /health dependency check.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
