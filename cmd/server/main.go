package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"archivegate/internal/platform/config"
	"archivegate/internal/platform/httpserver"
	"archivegate/internal/platform/logger"
	"archivegate/internal/platform/metrics"
	httptransport "archivegate/internal/transport/http"
)

// main wires the pipeline, the crawler and the HTTP adapter and owns their
// lifecycle. Business logic lives in internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, log); err != nil {
		log.Error("archivegate stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	app, err := buildApp(ctx, cfg, infra, m, log)
	if err != nil {
		return err
	}
	defer app.Close()

	deps := httptransport.Deps{
		Query:      app.pipeline,
		Audit:      app.trail,
		Budgets:    app.budget,
		Tokens:     app.tokens,
		AdminToken: cfg.Server.AdminToken,
		Checks:     infra.checks(),
		Metrics:    m,
		Logger:     log,
	}
	if infra.redis != nil && cfg.Redis.RequestLog {
		deps.RequestLog = infra.requestLog()
	}
	deps.RateLimit = newRateLimit(cfg.RateLimit, infra, m, log)
	if app.crawler != nil {
		deps.Crawler = app.crawler
		deps.Agencies = app.agencies
	}
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting archivegate", "addr", cfg.Server.Addr, "regulated_mode", cfg.Server.RegulatedMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	if app.crawler != nil {
		g.Go(func() error {
			runCrawler(gctx, app.crawler, app.agencies, cfg.Crawler.Interval, log)
			return nil
		})
	}
	return g.Wait()
}
