package main

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"archivegate/internal/auth/store/revocation"
	"archivegate/internal/auth/store/tokens"
	"archivegate/internal/auth/validator"
	crawlermodels "archivegate/internal/crawler/models"
	crawlerservice "archivegate/internal/crawler/service"
	jwttoken "archivegate/internal/jwt_token"
	"archivegate/internal/orchestrator"
	"archivegate/internal/platform/config"
	"archivegate/internal/platform/metrics"
	"archivegate/internal/privacy/dp"
	ledgermodels "archivegate/internal/privacy/ledger/models"
	ledgerservice "archivegate/internal/privacy/ledger/service"
	ledgerstore "archivegate/internal/privacy/ledger/store"
	"archivegate/internal/query"
	"archivegate/internal/records"
	recordstore "archivegate/internal/records/store"
	redactionservice "archivegate/internal/redaction/service"
	redactionstore "archivegate/internal/redaction/store"
	"archivegate/pkg/platform/audit"
	"archivegate/pkg/platform/audit/publishers/compliance"
	"archivegate/pkg/platform/audit/publishers/export"
	auditmemory "archivegate/pkg/platform/audit/store/memory"
	auditpostgres "archivegate/pkg/platform/audit/store/postgres"
)

type recordStore interface {
	records.Source
	records.Sink
}

// app is the assembled service graph.
type app struct {
	trail    *audit.Trail
	pipeline *orchestrator.Service
	budget   *ledgerservice.Service
	tokens   *validator.Validator
	crawler  *crawlerservice.Service
	agencies []crawlermodels.Agency

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config.Config, in *infra, m *metrics.Metrics, log *slog.Logger) (*app, error) {
	a := &app{}
	reg := m.Registry

	trailOpts := []audit.Option{audit.WithLogger(log)}
	if len(cfg.Kafka.Brokers) > 0 {
		exporter, err := startExporter(ctx, cfg.Kafka, m, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := exporter.Close(); err != nil {
				log.Warn("audit exporter close", "error", err)
			}
		})
		trailOpts = append(trailOpts, audit.WithExporter(exporter))
	}
	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	if in.db != nil {
		auditStore = auditpostgres.New(in.db)
	}
	a.trail = audit.NewTrail(auditStore, trailOpts...)
	recorder := compliance.New(a.trail,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics(reg)),
	)

	a.tokens = newValidator(cfg.Auth, in, log)

	ruleSets := redactionstore.NewRegistry()
	if err := ruleSets.LoadDir(ctx, cfg.Redaction.RuleSetDir); err != nil {
		a.Close()
		return nil, fmt.Errorf("load redaction rule sets: %w", err)
	}
	redactor, err := redactionservice.New([]byte(cfg.Redaction.HashSecret),
		redactionservice.WithLogger(log),
		redactionservice.WithMetrics(redactionservice.NewMetrics(reg)),
		redactionservice.WithWorkers(cfg.Redaction.Workers),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init redactor: %w", err)
	}

	policies, err := ledgermodels.LoadPolicies(cfg.Budget.PolicyFile)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load budget policies: %w", err)
	}
	a.budget, err = ledgerservice.New(newLedgerStore(in), policies,
		ledgerservice.WithLogger(log),
		ledgerservice.WithMetrics(ledgerservice.NewMetrics(reg)),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init budget ledger: %w", err)
	}

	pager, err := query.NewPaginator([]byte(cfg.Query.CursorKey),
		query.WithLimits(cfg.Query.DefaultLimit, cfg.Query.MaxLimit),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init paginator: %w", err)
	}

	store := newRecordStore(in)
	a.pipeline, err = orchestrator.New(orchestrator.Deps{
		Tokens:   a.tokens,
		Source:   store,
		Pager:    pager,
		RuleSets: ruleSets,
		Redactor: redactor,
		Budget:   a.budget,
		Noise:    dp.New(),
		Audit:    recorder,
	},
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(orchestrator.NewMetrics(reg)),
		orchestrator.WithTracer(otel.Tracer("archivegate/orchestrator")),
		orchestrator.WithStoreTimeout(cfg.Query.StoreTimeout),
		orchestrator.WithAuditTimeout(cfg.Query.AuditTimeout),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init query pipeline: %w", err)
	}

	if cfg.Crawler.Enabled {
		a.crawler, a.agencies, err = newCrawler(cfg.Crawler, in, store, recorder, m, log)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func startExporter(ctx context.Context, cfg config.Kafka, m *metrics.Metrics, log *slog.Logger) (*export.Exporter, error) {
	producer, err := export.NewKafkaProducer(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("connect audit export brokers: %w", err)
	}
	if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
		log.Warn("audit export topic not ensured", "topic", cfg.Topic, "error", err)
	}
	exporter := export.New(producer, export.DefaultConfig(),
		export.WithLogger(log),
		export.WithMetrics(export.NewMetrics(m.Registry)),
	)
	// Close drains the buffer on shutdown, so the worker outlives ctx.
	exporter.Start(context.WithoutCancel(ctx))
	log.Info("audit export enabled", "topic", cfg.Topic, "brokers", cfg.Brokers)
	return exporter, nil
}

func newValidator(cfg config.Auth, in *infra, log *slog.Logger) *validator.Validator {
	opts := []validator.Option{
		validator.WithJWT(jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)),
		validator.WithLogger(log),
	}
	if in.redis != nil {
		opts = append(opts,
			validator.WithTokenStore(tokens.NewRedisStore(in.redis.Client)),
			validator.WithRevocationList(revocation.NewRedisTRL(in.redis.Client)),
		)
	} else {
		opts = append(opts,
			validator.WithTokenStore(tokens.NewInMemoryStore()),
			validator.WithRevocationList(revocation.NewInMemoryTRL()),
		)
	}
	return validator.New(opts...)
}

func newLedgerStore(in *infra) ledgerservice.Store {
	switch {
	case in.pool != nil:
		return ledgerstore.NewPostgresStore(in.pool)
	case in.redis != nil:
		return ledgerstore.NewRedisStore(in.redis.Client)
	default:
		return ledgerstore.NewInMemoryStore()
	}
}

func newRecordStore(in *infra) recordStore {
	if in.redis != nil {
		return recordstore.NewRedisStore(in.redis.Client)
	}
	return recordstore.NewInMemoryStore()
}
