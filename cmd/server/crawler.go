package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	crawlerconfig "archivegate/internal/crawler/config"
	"archivegate/internal/crawler/credentials"
	"archivegate/internal/crawler/lease"
	crawlermodels "archivegate/internal/crawler/models"
	crawlerservice "archivegate/internal/crawler/service"
	crawlerstore "archivegate/internal/crawler/store"
	"archivegate/internal/crawler/upstream"
	"archivegate/internal/platform/config"
	"archivegate/internal/platform/metrics"
	"archivegate/internal/records"
)

func newCrawler(cfg config.Crawler, in *infra, sink records.Sink, recorder crawlerservice.AuditRecorder, m *metrics.Metrics, log *slog.Logger) (*crawlerservice.Service, []crawlermodels.Agency, error) {
	file, err := crawlerconfig.Load(cfg.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	creds, err := credentials.FromEnv(file.Agencies)
	if err != nil {
		return nil, nil, fmt.Errorf("load agency credentials: %w", err)
	}

	deps := crawlerservice.Deps{
		Client:      upstream.New(cfg.Settings, upstream.WithLogger(log)),
		Credentials: creds,
		Profiles:    file.Profiles,
		Sink:        sink,
		Alerts:      crawlerservice.NewAuditAlerts(recorder),
	}
	if in.redis != nil {
		deps.Leases = lease.NewRedisManager(in.redis.Client)
		deps.Sessions = crawlerstore.NewRedisStore(in.redis.Client)
	} else {
		deps.Leases = lease.NewInMemoryManager()
		deps.Sessions = crawlerstore.NewInMemoryStore()
	}

	svc, err := crawlerservice.New(cfg.Settings, deps,
		crawlerservice.WithLogger(log),
		crawlerservice.WithMetrics(crawlerservice.NewMetrics(m.Registry)),
		crawlerservice.WithConcurrency(cfg.Workers),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("init crawler: %w", err)
	}
	log.Info("crawler enabled", "agencies", len(file.Agencies), "interval", cfg.Interval)
	return svc, file.Agencies, nil
}

// runCrawler crawls every agency once per interval until ctx is done. A
// failed pass is logged and retried on the next tick.
func runCrawler(ctx context.Context, svc *crawlerservice.Service, agencies []crawlermodels.Agency, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		crawlOnce(ctx, svc, agencies, log)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func crawlOnce(ctx context.Context, svc *crawlerservice.Service, agencies []crawlermodels.Agency, log *slog.Logger) {
	outcomes, err := svc.Run(ctx, agencies)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("crawl pass failed", "error", err)
		}
		return
	}
	for _, o := range outcomes {
		attrs := []any{"agency_id", o.AgencyID, "state", o.State, "records", o.Records}
		switch {
		case o.Err != nil:
			log.Warn("agency crawl failed", append(attrs, "error", o.Err)...)
		case o.Skipped != "":
			log.Info("agency crawl skipped", append(attrs, "reason", o.Skipped)...)
		default:
			log.Info("agency crawled", attrs...)
		}
	}
}
