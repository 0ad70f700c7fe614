// Package service drives crawl sessions against upstream agencies. Each
// session is checked out under a lease, advanced only through
// models.Transition and persisted after every step.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"archivegate/internal/crawler/lease"
	"archivegate/internal/crawler/models"
	"archivegate/internal/crawler/upstream"
	"archivegate/internal/records"
	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/sentinel"
)

const (
	defaultConcurrency = 4
	maxRetries         = 6
)

// Skip reasons reported when an agency was not crawled this run.
const (
	SkipLeaseHeld = "lease_held"
	SkipRevoked   = "revoked"
)

// Outcome summarises one agency's part of a run.
type Outcome struct {
	AgencyID  string
	SessionID string
	State     models.State
	Records   int
	Skipped   string
	Err       error
}

type Deps struct {
	Client      *upstream.Client
	Leases      LeaseManager
	Sessions    SessionStore
	Credentials CredentialProvider
	Profiles    Profiles
	Sink        records.Sink
	Alerts      AlertSink
}

func (d Deps) validate() error {
	switch {
	case d.Client == nil:
		return errors.New("upstream client is required")
	case d.Leases == nil:
		return errors.New("lease manager is required")
	case d.Sessions == nil:
		return errors.New("session store is required")
	case d.Credentials == nil:
		return errors.New("credential provider is required")
	case d.Profiles == nil:
		return errors.New("evasion profiles are required")
	case d.Sink == nil:
		return errors.New("record sink is required")
	case d.Alerts == nil:
		return errors.New("alert sink is required")
	}
	return nil
}

type Service struct {
	deps        Deps
	cfg         models.Config
	concurrency int
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithConcurrency bounds how many agencies are crawled at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSleeper replaces the backoff wait (tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

func New(cfg models.Config, deps Deps, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("crawler config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	s := &Service{
		deps:        deps,
		cfg:         cfg,
		concurrency: defaultConcurrency,
		now:         time.Now,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run crawls every agency once, in parallel up to the concurrency limit.
// Upstream trouble ends only that agency's crawl and is reported in its
// Outcome. A failing sink, session store or alert sink stops the whole run.
func (s *Service) Run(ctx context.Context, agencies []models.Agency) ([]Outcome, error) {
	outcomes := make([]Outcome, len(agencies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, agency := range agencies {
		g.Go(func() error {
			out, err := s.crawl(gctx, agency)
			outcomes[i] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, ctx.Err()
}

// Rotate applies an operator's credential rotation: the session returns to
// idle with its history cleared and may be crawled again.
func (s *Service) Rotate(ctx context.Context, agency models.Agency) (*models.Session, error) {
	key := models.SessionKey{AgencyID: agency.ID, CredentialsRef: agency.CredentialsRef}
	l, err := s.deps.Leases.Acquire(ctx, key, s.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, sentinel.ErrLeaseHeld) {
			return nil, dErrors.New(dErrors.CodeConflict, "session is checked out by a worker")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "acquire session lease")
	}
	defer s.release(ctx, l)

	session, err := s.load(ctx, agency)
	if err != nil {
		return nil, err
	}
	w := &worker{svc: s, agency: agency, session: *session}
	if err := w.fire(ctx, models.SignalManualRotate); err != nil {
		return nil, err
	}
	return &w.session, nil
}

func (s *Service) crawl(ctx context.Context, agency models.Agency) (Outcome, error) {
	out := Outcome{AgencyID: agency.ID}
	key := models.SessionKey{AgencyID: agency.ID, CredentialsRef: agency.CredentialsRef}

	l, err := s.deps.Leases.Acquire(ctx, key, s.cfg.LeaseTTL)
	if errors.Is(err, sentinel.ErrLeaseHeld) {
		out.Skipped = SkipLeaseHeld
		return out, nil
	}
	if err != nil {
		out.Err = err
		return out, nil
	}
	defer s.release(ctx, l)

	session, err := s.load(ctx, agency)
	if err != nil {
		return out, err
	}
	out.SessionID, out.State = session.ID, session.State
	if session.State == models.StateRevoked {
		out.Skipped = SkipRevoked
		return out, nil
	}

	creds, err := s.deps.Credentials.Fetch(ctx, agency.ID)
	if err != nil {
		out.Err = err
		return out, nil
	}
	profile, err := s.deps.Profiles.Get(agency.ProfileID)
	if err != nil {
		out.Err = err
		return out, nil
	}

	w := &worker{
		svc:     s,
		agency:  agency,
		session: *session,
		creds:   creds,
		lease:   l,
		conn:    s.deps.Client.Open(agency, profile),
		retry:   s.newRetry(),
	}
	err = w.run(ctx)
	out.State, out.Records = w.session.State, w.records

	var fe fatalError
	if errors.As(err, &fe) {
		return out, fe.err
	}
	if err != nil && ctx.Err() == nil {
		out.Err = err
		s.logWarn(ctx, "crawl ended early", w.attrs("error", err.Error())...)
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, agency models.Agency) (*models.Session, error) {
	key := models.SessionKey{AgencyID: agency.ID, CredentialsRef: agency.CredentialsRef}
	session, err := s.deps.Sessions.Get(ctx, key)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load crawl session")
	}
	session = &models.Session{
		ID:               uuid.NewString(),
		AgencyID:         agency.ID,
		CredentialsRef:   agency.CredentialsRef,
		State:            models.StateIdle,
		EvasionProfileID: agency.ProfileID,
		UpdatedAt:        s.now(),
	}
	if err := s.deps.Sessions.Save(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create crawl session")
	}
	return session, nil
}

func (s *Service) release(ctx context.Context, l *lease.Lease) {
	if err := s.deps.Leases.Release(context.WithoutCancel(ctx), l); err != nil {
		s.logWarn(ctx, "failed to release session lease", "agency_id", l.Key.AgencyID, "error", err.Error())
	}
}

func (s *Service) newRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BaseBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, maxRetries)
}

// coolingDelay doubles the cooling interval for every suspect entry the
// session has accumulated, with jitter.
func (s *Service) coolingDelay(suspectCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.CoolingInterval
	b.Multiplier = 2
	b.MaxInterval = max(s.cfg.MaxBackoff, s.cfg.CoolingInterval)
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.NextBackOff()
	for range suspectCount - 1 {
		d = b.NextBackOff()
	}
	return d
}

func (s *Service) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.WarnContext(ctx, msg, args...)
}

func (s *Service) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.InfoContext(ctx, msg, args...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// fatalError marks failures of our own infrastructure, as opposed to
// upstream trouble.
type fatalError struct {
	err error
}

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }
