// Package config reads process configuration from the environment so main
// stays lean. Every setting has a development default; Validate rejects the
// ones that are unsafe outside development.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	crawler "archivegate/internal/crawler/models"
	strs "archivegate/pkg/platform/strings"
)

const devSecret = "dev-secret-key-change-in-production"

type Config struct {
	Server    Server
	Log       Log
	Auth      Auth
	Redis     RedisConfig
	Postgres  Postgres
	Kafka     Kafka
	Query     Query
	Redaction Redaction
	Budget    Budget
	RateLimit RateLimit
	Crawler   Crawler
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	RegulatedMode   bool
	AdminToken      string
	ShutdownTimeout time.Duration
}

type Log struct {
	Level  string
	Format string
}

// Auth configures bearer token validation. Tokens with three segments are
// checked as JWTs, anything else is looked up in Redis.
type Auth struct {
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
}

// RedisConfig is optional; an empty URL runs every Redis-backed store in
// memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RequestLog   bool
}

// Postgres is optional; without a DSN the audit trail and the budget ledger
// are held in memory.
type Postgres struct {
	DSN string
}

type Kafka struct {
	Brokers []string
	Topic   string
}

type Query struct {
	CursorKey    string
	DefaultLimit int
	MaxLimit     int
	StoreTimeout time.Duration
	AuditTimeout time.Duration
}

type Redaction struct {
	RuleSetDir string
	HashSecret string
	Workers    int
}

type Budget struct {
	PolicyFile string
}

// RateLimit caps each client IP on the /v1 routes. Zero requests disables
// it.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

type Crawler struct {
	Enabled    bool
	ConfigPath string
	Interval   time.Duration
	Workers    int
	Settings   crawler.Config
}

func FromEnv() Config {
	defaults := crawler.DefaultConfig()
	return Config{
		Server: Server{
			Addr:            getenv("ARCHIVEGATE_ADDR", ":8080"),
			RegulatedMode:   os.Getenv("REGULATED_MODE") == "true",
			AdminToken:      os.Getenv("ARCHIVEGATE_ADMIN_TOKEN"),
			ShutdownTimeout: getenvDuration("ARCHIVEGATE_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: Log{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "json"),
		},
		Auth: Auth{
			JWTSigningKey: getenv("JWT_SIGNING_KEY", devSecret),
			JWTIssuer:     getenv("JWT_ISSUER", "archivegate"),
			JWTAudience:   getenv("JWT_AUDIENCE", "archivegate-api"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getenvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getenvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getenvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getenvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getenvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			RequestLog:   getenv("REDIS_REQUEST_LOG", "true") == "true",
		},
		Postgres: Postgres{
			DSN: os.Getenv("DATABASE_URL"),
		},
		Kafka: Kafka{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getenv("KAFKA_AUDIT_TOPIC", "archivegate.audit"),
		},
		Query: Query{
			CursorKey:    getenv("QUERY_CURSOR_KEY", devSecret),
			DefaultLimit: getenvInt("QUERY_DEFAULT_LIMIT", 50),
			MaxLimit:     getenvInt("QUERY_MAX_LIMIT", 500),
			StoreTimeout: getenvDuration("QUERY_STORE_TIMEOUT", 5*time.Second),
			AuditTimeout: getenvDuration("QUERY_AUDIT_TIMEOUT", 5*time.Second),
		},
		Redaction: Redaction{
			RuleSetDir: getenv("REDACTION_RULESET_DIR", "configs/rulesets"),
			HashSecret: getenv("REDACTION_HASH_SECRET", devSecret),
			Workers:    getenvInt("REDACTION_WORKERS", 0),
		},
		Budget: Budget{
			PolicyFile: getenv("BUDGET_POLICY_FILE", "configs/budgets.yaml"),
		},
		RateLimit: RateLimit{
			Requests: getenvInt("RATELIMIT_REQUESTS", 120),
			Window:   getenvDuration("RATELIMIT_WINDOW", time.Minute),
		},
		Crawler: Crawler{
			Enabled:    os.Getenv("CRAWLER_ENABLED") == "true",
			ConfigPath: getenv("CRAWLER_CONFIG", "configs/crawler.yaml"),
			Interval:   getenvDuration("CRAWLER_INTERVAL", time.Hour),
			Workers:    getenvInt("CRAWLER_WORKERS", 4),
			Settings: crawler.Config{
				SuspectThreshold:   getenvInt("CRAWLER_SUSPECT_THRESHOLD", defaults.SuspectThreshold),
				MaxAuthFailures:    getenvInt("CRAWLER_MAX_AUTH_FAILURES", defaults.MaxAuthFailures),
				BaseBackoff:        getenvDuration("CRAWLER_BASE_BACKOFF", defaults.BaseBackoff),
				MaxBackoff:         getenvDuration("CRAWLER_MAX_BACKOFF", defaults.MaxBackoff),
				CoolingInterval:    getenvDuration("CRAWLER_COOLING_INTERVAL", defaults.CoolingInterval),
				LeaseTTL:           getenvDuration("CRAWLER_LEASE_TTL", defaults.LeaseTTL),
				RequestTimeout:     getenvDuration("CRAWLER_REQUEST_TIMEOUT", defaults.RequestTimeout),
				ErrorWindow:        getenvInt("CRAWLER_ERROR_WINDOW", defaults.ErrorWindow),
				ErrorRateThreshold: getenvFloat("CRAWLER_ERROR_RATE_THRESHOLD", defaults.ErrorRateThreshold),
				MaxPages:           getenvInt("CRAWLER_MAX_PAGES", defaults.MaxPages),
			},
		},
	}
}

// Validate refuses development secrets in regulated mode and checks the
// crawler bounds when the crawler is on.
func (c Config) Validate() error {
	if c.Server.RegulatedMode {
		switch {
		case c.Auth.JWTSigningKey == devSecret:
			return errors.New("JWT_SIGNING_KEY must be set in regulated mode")
		case c.Query.CursorKey == devSecret:
			return errors.New("QUERY_CURSOR_KEY must be set in regulated mode")
		case c.Redaction.HashSecret == devSecret:
			return errors.New("REDACTION_HASH_SECRET must be set in regulated mode")
		case c.Postgres.DSN == "":
			return errors.New("DATABASE_URL must be set in regulated mode")
		}
	}
	if c.Query.MaxLimit <= 0 {
		return errors.New("QUERY_MAX_LIMIT must be positive")
	}
	if c.Crawler.Enabled {
		return c.Crawler.Settings.Validate()
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return strs.DedupeAndTrim(strings.Split(v, ","))
}
