// Package export ships committed audit entries to an external sink (a SIEM
// topic) without ever blocking or failing the append path. Entries are
// buffered, drained by a single worker, and dropped while the sink's circuit
// is open. The hash chain in the primary store stays authoritative.
package export

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	audit "archivegate/pkg/platform/audit"
	"archivegate/pkg/platform/circuit"
)

// Producer delivers a batch of entries to the sink.
type Producer interface {
	Publish(ctx context.Context, entries []audit.Entry) error
}

type Config struct {
	BufferSize     int
	BatchSize      int
	FlushInterval  time.Duration
	PublishTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize:     10000,
		BatchSize:      100,
		FlushInterval:  250 * time.Millisecond,
		PublishTimeout: 5 * time.Second,
	}
}

// Exporter implements audit.Exporter.
type Exporter struct {
	cfg      Config
	producer Producer
	buffer   *RingBuffer
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *Metrics

	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started atomic.Bool
	closed  sync.Once
}

type Option func(*Exporter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Exporter) { e.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(e *Exporter) {
		if b != nil {
			e.breaker = b
		}
	}
}

func New(producer Producer, cfg Config, opts ...Option) *Exporter {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	e := &Exporter{
		cfg:      cfg,
		producer: producer,
		buffer:   NewRingBuffer(cfg.BufferSize),
		breaker:  circuit.New("audit_export", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export queues entry for delivery. It never blocks.
func (e *Exporter) Export(entry audit.Entry) {
	if e.buffer.Enqueue(entry) && e.metrics != nil {
		e.metrics.IncDropped("buffer_full")
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Start runs the delivery worker until ctx is cancelled or Close is called.
func (e *Exporter) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go e.run(ctx)
}

func (e *Exporter) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			e.flushAll(context.Background())
			return
		case <-e.wake:
		case <-ticker.C:
		}
		e.flushAll(ctx)
	}
}

func (e *Exporter) flushAll(ctx context.Context) {
	for e.buffer.Len() > 0 {
		if !e.flushBatch(ctx) {
			return
		}
	}
}

// flushBatch sends one batch; it returns false when the worker should back off.
func (e *Exporter) flushBatch(ctx context.Context) bool {
	if !e.breaker.Allow() {
		dropped := e.buffer.DequeueBatch(e.cfg.BatchSize)
		if e.metrics != nil {
			e.metrics.AddDropped("circuit_open", len(dropped))
		}
		return len(dropped) > 0
	}

	batch := e.buffer.DequeueBatch(e.cfg.BatchSize)
	if len(batch) == 0 {
		return false
	}
	pubCtx, cancel := context.WithTimeout(ctx, e.cfg.PublishTimeout)
	err := e.producer.Publish(pubCtx, batch)
	cancel()

	if err != nil {
		_, change := e.breaker.RecordFailure()
		if e.metrics != nil {
			e.metrics.AddDropped("publish_failed", len(batch))
			if change.Opened {
				e.metrics.SetCircuitOpen(true)
			}
		}
		if e.logger != nil {
			e.logger.WarnContext(ctx, "audit export failed",
				"entries", len(batch),
				"first_id", batch[0].ID,
				"circuit_opened", change.Opened,
				"error", err,
			)
		}
		return false
	}

	_, change := e.breaker.RecordSuccess()
	if e.metrics != nil {
		e.metrics.AddExported(len(batch))
		if change.Closed {
			e.metrics.SetCircuitOpen(false)
		}
	}
	return true
}

// Close drains what it can and stops the worker.
func (e *Exporter) Close() error {
	e.closed.Do(func() {
		close(e.stop)
	})
	if e.started.Load() {
		<-e.done
	}
	return nil
}

// Pending returns the number of buffered entries.
func (e *Exporter) Pending() int {
	return e.buffer.Len()
}
