package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"archivegate/internal/crawler/lease"
	"archivegate/internal/crawler/models"
	"archivegate/internal/crawler/upstream"
	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/sentinel"
)

// worker owns one checked-out session for the length of a crawl.
type worker struct {
	svc     *Service
	agency  models.Agency
	session models.Session
	creds   models.Credentials
	lease   *lease.Lease
	conn    *upstream.Conn
	retry   backoff.BackOff

	cursor     string
	pages      int
	records    int
	retryAfter time.Duration
	finished   bool
}

func (w *worker) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.svc.deps.Leases.Renew(ctx, w.lease, w.svc.cfg.LeaseTTL); err != nil {
			return fmt.Errorf("session lease lost: %w", err)
		}

		var err error
		switch w.session.State {
		case models.StateIdle:
			if w.finished {
				return nil
			}
			err = w.start(ctx)
		case models.StateAuthenticating:
			err = w.authenticate(ctx)
		case models.StateActive:
			err = w.fetch(ctx)
		case models.StateThrottled:
			err = w.throttled(ctx)
		case models.StateSuspect:
			err = w.fire(ctx, models.SignalCoolDown)
		case models.StateCooling:
			err = w.cool(ctx)
		case models.StateRevoked:
			return nil
		default:
			return fatalError{fmt.Errorf("session %s has unknown state %q", w.session.ID, w.session.State)}
		}
		if err != nil {
			return err
		}
	}
}

func (w *worker) start(ctx context.Context) error {
	if w.session.Counters.AuthFailures > 0 {
		if err := w.backoff(ctx, 0); err != nil {
			return err
		}
	}
	return w.fire(ctx, models.SignalStart)
}

func (w *worker) authenticate(ctx context.Context) error {
	res, err := w.conn.Login(ctx, w.creds)
	if err != nil {
		return w.transient(ctx, err)
	}
	if res.Signal == models.SignalRateLimited {
		return w.backoff(ctx, res.RetryAfter)
	}
	w.retry.Reset()
	return w.fire(ctx, res.Signal)
}

func (w *worker) fetch(ctx context.Context) error {
	if w.pages >= w.svc.cfg.MaxPages {
		w.finished = true
		return w.fire(ctx, models.SignalDone)
	}
	if !w.conn.Authenticated() {
		// Resumed sessions and upstream logouts land here without a token.
		res, err := w.conn.Login(ctx, w.creds)
		if err != nil {
			return w.transient(ctx, err)
		}
		if res.Signal != models.SignalAuthOK {
			w.retryAfter = res.RetryAfter
			return w.fire(ctx, res.Signal)
		}
	}

	res, err := w.conn.Fetch(ctx, w.cursor)
	if err != nil {
		return w.transient(ctx, err)
	}
	if res.Signal != models.SignalFetchOK {
		w.retryAfter = res.RetryAfter
		return w.fire(ctx, res.Signal)
	}

	w.retry.Reset()
	for _, rec := range res.Page.Records {
		if err := w.svc.deps.Sink.Put(ctx, rec); err != nil {
			return fatalError{fmt.Errorf("store record %s: %w", rec.ID, err)}
		}
	}
	w.records += len(res.Page.Records)
	w.pages++
	w.cursor = res.Page.Next
	w.svc.metrics.AddRecords(w.agency.ID, len(res.Page.Records))

	if err := w.fire(ctx, models.SignalFetchOK); err != nil {
		return err
	}
	if res.Page.Next == "" {
		w.finished = true
		return w.fire(ctx, models.SignalDone)
	}
	return nil
}

func (w *worker) throttled(ctx context.Context) error {
	hint := w.retryAfter
	w.retryAfter = 0
	if err := w.backoff(ctx, hint); err != nil {
		return err
	}
	return w.fire(ctx, models.SignalThrottleCleared)
}

func (w *worker) cool(ctx context.Context) error {
	if wait := w.session.BackoffDeadline.Sub(w.svc.now()); wait > 0 {
		if err := w.svc.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return w.fire(ctx, models.SignalCooldownElapsed)
}

// backoff waits for the next retry delay, or hint if that is longer. It
// gives up once the retry budget is spent.
func (w *worker) backoff(ctx context.Context, hint time.Duration) error {
	d := w.retry.NextBackOff()
	if d == backoff.Stop {
		return dErrors.New(dErrors.CodeUpstreamSuspect, fmt.Sprintf("agency %s: retry budget exhausted", w.agency.ID))
	}
	return w.svc.sleep(ctx, max(d, hint))
}

// transient retries timeouts and unavailability with backoff; anything
// else ends the crawl.
func (w *worker) transient(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !dErrors.HasCode(err, dErrors.CodeUpstreamTimeout) && !errors.Is(err, sentinel.ErrUnavailable) {
		return err
	}
	w.svc.metrics.IncUpstreamError(w.agency.ID)
	w.svc.logWarn(ctx, "transient upstream failure", w.attrs("error", err.Error())...)
	if berr := w.backoff(ctx, 0); berr != nil {
		if dErrors.HasCode(berr, dErrors.CodeUpstreamSuspect) {
			return fmt.Errorf("%w: %w", berr, err)
		}
		return berr
	}
	return nil
}

// fire advances the session, persists it and raises any alert the
// transition calls for.
func (w *worker) fire(ctx context.Context, signal models.Signal) error {
	d, err := models.Transition(w.session.State, signal, w.session.Counters, w.svc.cfg)
	if err != nil {
		return err
	}

	now := w.svc.now()
	w.session.State = d.Next
	w.session.Counters = d.Counters
	w.session.UpdatedAt = now
	w.session.BackoffDeadline = time.Time{}
	if d.Next == models.StateCooling {
		w.session.BackoffDeadline = now.Add(w.svc.coolingDelay(d.Counters.SuspectCount))
	}
	if signal == models.SignalManualRotate {
		w.session.ID = uuid.NewString()
	}
	if err := w.svc.deps.Sessions.Save(ctx, &w.session); err != nil {
		return fatalError{fmt.Errorf("save crawl session: %w", err)}
	}

	w.svc.metrics.IncTransition(string(d.From), string(d.Next), string(signal))
	if d.From != d.Next {
		w.svc.logInfo(ctx, "crawl session transition", w.attrs("from", string(d.From), "signal", string(signal))...)
	}

	switch {
	case d.Alert:
		w.svc.metrics.IncRevocation(w.agency.ID)
		w.svc.logWarn(ctx, "crawl session revoked", w.attrs("signal", string(signal))...)
		if err := w.svc.deps.Alerts.SessionRevoked(ctx, w.session, fmt.Sprintf("revoked after %s", signal)); err != nil {
			return fatalError{fmt.Errorf("report revocation: %w", err)}
		}
	case d.Next == models.StateSuspect:
		if err := w.svc.deps.Alerts.SessionSuspect(ctx, w.session); err != nil {
			w.svc.logWarn(ctx, "failed to report suspect session", w.attrs("error", err.Error())...)
		}
	}
	return nil
}

// attrs never includes credential material; credentials_ref is an opaque
// handle.
func (w *worker) attrs(args ...any) []any {
	return append([]any{
		"session_id", w.session.ID,
		"agency_id", w.agency.ID,
		"credentials_ref", w.session.CredentialsRef,
		"state", string(w.session.State),
	}, args...)
}
