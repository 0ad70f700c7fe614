// Package compliance provides the fail-closed audit publisher used on the
// query path. The caller blocks until the entry is committed to the trail;
// if it cannot be, the caller's operation must fail.
package compliance

import (
	"context"
	"log/slog"
	"time"

	dErrors "archivegate/pkg/domain-errors"
	audit "archivegate/pkg/platform/audit"
)

// Appender is the subset of *audit.Trail the publisher needs.
type Appender interface {
	Append(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}

// Publisher records entries with fail-closed semantics.
type Publisher struct {
	trail   Appender
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func New(trail Appender, opts ...Option) *Publisher {
	p := &Publisher{trail: trail}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Record synchronously commits entry. Any failure is reported as
// audit_write_failure.
func (p *Publisher) Record(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	start := time.Now()

	if entry.Actor == "" {
		return audit.Entry{}, dErrors.New(dErrors.CodeAuditWriteFailure, "audit entry requires an actor")
	}

	committed, err := p.trail.Append(ctx, entry)
	if err != nil {
		if p.metrics != nil {
			p.metrics.IncPersistFailures()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: audit write failed",
				"action", entry.Action,
				"actor", entry.Actor,
				"outcome", entry.Outcome,
				"request_id", entry.RequestID,
				"error", err,
			)
		}
		return audit.Entry{}, dErrors.Wrap(err, dErrors.CodeAuditWriteFailure, "audit persistence failed")
	}

	if p.metrics != nil {
		p.metrics.ObservePersistDuration(time.Since(start).Seconds())
		p.metrics.IncEntries(committed.Outcome)
	}
	return committed, nil
}
