// Package orchestrator runs one archive query through authorization,
// filtering, redaction, noise and audit. Every call produces exactly one
// query audit entry, failures included, and no response leaves the pipeline
// unless that entry was durably written.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	authmodels "archivegate/internal/auth/models"
	"archivegate/internal/privacy/dp"
	ledger "archivegate/internal/privacy/ledger/models"
	"archivegate/internal/query"
	"archivegate/internal/records"
	redaction "archivegate/internal/redaction/models"
	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/audit"
	"archivegate/pkg/requestcontext"
)

const (
	defaultStoreTimeout = 5 * time.Second
	defaultAuditTimeout = 5 * time.Second

	anonymousActor = "anonymous"
	tracerName     = "archivegate/orchestrator"
)

// Deps are the collaborators every pipeline run needs.
type Deps struct {
	Tokens   TokenValidator
	Source   records.Source
	Pager    *query.Paginator
	RuleSets RuleSets
	Redactor Redactor
	Budget   Budget
	Noise    NoiseEngine
	Audit    AuditRecorder
}

func (d Deps) validate() error {
	switch {
	case d.Tokens == nil:
		return errors.New("token validator is required")
	case d.Source == nil:
		return errors.New("record source is required")
	case d.Pager == nil:
		return errors.New("paginator is required")
	case d.RuleSets == nil:
		return errors.New("rule set registry is required")
	case d.Redactor == nil:
		return errors.New("redactor is required")
	case d.Budget == nil:
		return errors.New("budget ledger is required")
	case d.Noise == nil:
		return errors.New("noise engine is required")
	case d.Audit == nil:
		return errors.New("audit recorder is required")
	}
	return nil
}

type Service struct {
	deps         Deps
	logger       *slog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
	storeTimeout time.Duration
	auditTimeout time.Duration
	now          func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithStoreTimeout bounds each record store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithAuditTimeout bounds each audit write. Audit writes are detached from
// the caller's cancellation so failures are recorded even after a client
// disconnects.
func WithAuditTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.auditTimeout = d
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

func New(deps Deps, opts ...Option) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	s := &Service{
		deps:         deps,
		tracer:       otel.Tracer(tracerName),
		storeTimeout: defaultStoreTimeout,
		auditTimeout: defaultAuditTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// run is the request-local pipeline state.
type run struct {
	state      State
	requestID  string
	token      string
	desc       query.Descriptor
	descHash   string
	scope      *authmodels.Scope
	ruleSet    string
	alloc      *ledger.Allocation
	noised     bool
	started    time.Time
	stageStart time.Time
}

func (r *run) actor() string {
	if r.scope == nil || r.scope.RequesterID == "" {
		return anonymousActor
	}
	return r.scope.RequesterID
}

func (s *Service) enter(ctx context.Context, r *run, to State) {
	if !CanTransition(r.state, to) {
		// Reaching this is a bug in Handle, not a client error.
		panic(fmt.Sprintf("orchestrator: illegal transition %s -> %s", r.state, to))
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "pipeline transition",
			"request_id", r.requestID,
			"from", r.state,
			"to", to,
		)
	}
	trace.SpanFromContext(ctx).AddEvent(string(to))
	r.state = to
}

func (s *Service) stageDone(r *run, stage Stage) {
	now := s.now()
	s.metrics.ObserveStage(stage, now.Sub(r.stageStart))
	r.stageStart = now
}

// Handle runs the pipeline for one query.
func (s *Service) Handle(ctx context.Context, desc query.Descriptor, token string) (*Response, error) {
	requestID := requestcontext.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = requestcontext.WithRequestID(ctx, requestID)
	}
	ctx, span := s.tracer.Start(ctx, "orchestrator.Handle", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("dataset", desc.Dataset),
	))
	defer span.End()

	now := s.now()
	r := &run{
		state:      StateReceived,
		requestID:  requestID,
		token:      token,
		desc:       desc,
		descHash:   audit.DescriptorHash(desc.Canonical()),
		started:    now,
		stageStart: now,
	}
	defer func() { s.metrics.ObserveDuration(s.now().Sub(r.started)) }()

	resp, err := s.handle(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.SetAttributes(attribute.String("final_state", string(r.state)))
	return resp, err
}

func (s *Service) handle(ctx context.Context, r *run) (*Response, error) {
	// Received -> Authorized
	scope, err := s.deps.Tokens.Validate(ctx, r.token)
	if err != nil {
		return s.fail(ctx, r, StageAuthorize, err)
	}
	r.scope = scope
	if err := r.desc.Validate(); err != nil {
		return s.fail(ctx, r, StageValidate, err)
	}
	if !scope.Allows(r.desc.Dataset) {
		return s.fail(ctx, r, StageAuthorize, dErrors.New(dErrors.CodeForbidden, "token does not grant access to this dataset"))
	}
	s.enter(ctx, r, StateAuthorized)
	s.stageDone(r, StageAuthorize)

	filter, err := query.Compile(r.desc.Predicates())
	if err != nil {
		return s.fail(ctx, r, StageValidate, err)
	}

	if r.desc.IsAggregate() {
		return s.handleAggregate(ctx, r, filter)
	}
	return s.handleRecords(ctx, r, filter)
}

func (s *Service) handleRecords(ctx context.Context, r *run, filter *query.Filter) (*Response, error) {
	rs, err := s.deps.RuleSets.Latest(ctx)
	if err != nil {
		return s.fail(ctx, r, StageRuleSet, err)
	}
	r.ruleSet = rs.Version

	// Authorized -> Filtered
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	page, err := s.deps.Pager.Page(storeCtx, s.deps.Source, r.desc.Dataset, filter, r.desc.Cursor, r.desc.Limit)
	cancel()
	if err != nil {
		return s.fail(ctx, r, StageFilter, err)
	}
	s.enter(ctx, r, StateFiltered)
	s.stageDone(r, StageFilter)

	resp := &Response{
		RequestID:      r.requestID,
		Type:           r.desc.Type,
		Count:          len(page.Records),
		NextCursor:     page.NextCursor,
		RuleSetVersion: rs.Version,
	}

	if r.desc.Type == query.TypeSummary {
		// Only ids and fetch times leave the service; no field content to redact.
		resp.Summary = make([]SummaryItem, len(page.Records))
		for i, rec := range page.Records {
			resp.Summary[i] = SummaryItem{ID: rec.ID, FetchedAt: rec.FetchedAt}
		}
		return s.complete(ctx, r, resp)
	}

	// Filtered -> Redacted
	proj := redaction.Projection{Include: r.desc.Include, Exclude: r.desc.Exclude}
	sanitized, err := s.deps.Redactor.RedactPage(ctx, page.Records, rs, proj)
	if err != nil {
		return s.fail(ctx, r, StageRedact, dErrors.Wrap(err, dErrors.CodeRedactionFailure, "redaction failed"))
	}
	if failed := failedRecords(sanitized); failed > 0 {
		// Fields were redacted whole; the request still succeeds.
		if err := s.recordRedactionWarning(ctx, r, failed); err != nil {
			r.state = StateErrored
			return nil, err
		}
	}
	resp.Records = sanitized
	s.enter(ctx, r, StateRedacted)
	s.stageDone(r, StageRedact)

	return s.complete(ctx, r, resp)
}

func (s *Service) handleAggregate(ctx context.Context, r *run, filter *query.Filter) (*Response, error) {
	q := *r.desc.Aggregate

	// Malformed aggregates are rejected before any budget is touched.
	if _, err := s.deps.Noise.Sensitivity(q); err != nil {
		return s.fail(ctx, r, StageValidate, err)
	}

	alloc, err := s.deps.Budget.Reserve(ctx, r.scope.RequesterID, r.desc.Dataset, q.Epsilon)
	if err != nil {
		return s.fail(ctx, r, StageReserve, err)
	}
	r.alloc = alloc
	s.stageDone(r, StageReserve)

	// Authorized -> Filtered
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	var raw float64
	switch q.Kind {
	case dp.KindCount:
		raw, err = query.Count(storeCtx, s.deps.Source, r.desc.Dataset, filter)
	case dp.KindSum:
		raw, err = query.Sum(storeCtx, s.deps.Source, r.desc.Dataset, filter, q.Field, q.Lower, q.Upper)
	}
	cancel()
	if err != nil {
		return s.fail(ctx, r, StageAggregate, err)
	}
	s.enter(ctx, r, StateFiltered)
	s.stageDone(r, StageAggregate)

	// Filtered -> Noised
	noisy, err := s.deps.Noise.Apply(ctx, q, raw, alloc)
	if err != nil {
		return s.fail(ctx, r, StageNoise, err)
	}
	r.noised = true
	s.enter(ctx, r, StateNoised)
	s.stageDone(r, StageNoise)

	resp := &Response{
		RequestID: r.requestID,
		Type:      r.desc.Type,
		Aggregate: noisy,
	}
	return s.complete(ctx, r, resp)
}

// complete writes the success entry. If it cannot be written the response
// is discarded.
func (s *Service) complete(ctx context.Context, r *run, resp *Response) (*Response, error) {
	entry := s.entry(r, audit.OutcomeSuccess, StageComplete, "")
	committed, err := s.record(ctx, entry)
	if err != nil {
		s.releaseIfUnspent(ctx, r)
		r.state = StateErrored
		s.metrics.IncOutcome(string(audit.OutcomeError), StageComplete)
		return nil, err
	}
	s.enter(ctx, r, StateAudited)
	resp.AuditEntryID = committed.ID
	s.enter(ctx, r, StateResponded)
	s.metrics.IncOutcome(string(audit.OutcomeSuccess), StageComplete)
	return resp, nil
}

// fail moves the run to Denied or Errored, returns unspent budget and writes
// the failure entry. An audit failure replaces the original error.
func (s *Service) fail(ctx context.Context, r *run, stage Stage, err error) (*Response, error) {
	if errors.Is(err, context.DeadlineExceeded) && !dErrors.HasCode(err, dErrors.CodeTimeout) {
		err = dErrors.Wrap(err, dErrors.CodeTimeout, "store call timed out")
	}
	outcome := classify(err)
	if outcome == audit.OutcomeDenied {
		s.enter(ctx, r, StateDenied)
	} else {
		s.enter(ctx, r, StateErrored)
	}
	s.releaseIfUnspent(ctx, r)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "query not served",
			"request_id", r.requestID,
			"actor", r.actor(),
			"stage", stage,
			"outcome", outcome,
			"code", dErrors.CodeOf(err),
		)
	}

	entry := s.entry(r, outcome, stage, reason(err))
	if _, auditErr := s.record(ctx, entry); auditErr != nil {
		s.metrics.IncOutcome(string(audit.OutcomeError), stage)
		return nil, auditErr
	}
	s.metrics.IncOutcome(string(outcome), stage)
	return nil, err
}

func (s *Service) recordRedactionWarning(ctx context.Context, r *run, failed int) error {
	s.metrics.IncRedactionWarning()
	entry := s.entry(r, audit.OutcomeSuccess, StageRedact, fmt.Sprintf("detector failure in %d records; affected fields fully redacted", failed))
	entry.Action = audit.ActionRedactionWarning
	entry.Severity = audit.SeverityWarning
	entry.EpsilonConsumed = 0
	_, err := s.record(ctx, entry)
	return err
}

func (s *Service) entry(r *run, outcome audit.Outcome, stage Stage, why string) audit.Entry {
	eps := 0.0
	if r.alloc != nil && (outcome == audit.OutcomeSuccess || r.noised) {
		eps = r.alloc.Epsilon
	}
	return audit.Entry{
		Action:          audit.ActionQuery,
		Actor:           r.actor(),
		QueryDescriptor: r.descHash,
		RuleSetVersion:  r.ruleSet,
		EpsilonConsumed: eps,
		Outcome:         outcome,
		Stage:           string(stage),
		Severity:        audit.SeverityInfo,
		Reason:          why,
		RequestID:       r.requestID,
	}
}

func (s *Service) record(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.auditTimeout)
	defer cancel()
	committed, err := s.deps.Audit.Record(auditCtx, entry)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeAuditWriteFailure) {
		err = dErrors.Wrap(err, dErrors.CodeAuditWriteFailure, "audit persistence failed")
	}
	return committed, err
}

// releaseIfUnspent returns the allocation unless noise was already computed
// from it; a computed noisy value consumes the budget whether or not it is
// returned.
func (s *Service) releaseIfUnspent(ctx context.Context, r *run) {
	if r.alloc == nil || r.noised {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.auditTimeout)
	defer cancel()
	if err := s.deps.Budget.Release(releaseCtx, r.alloc); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "budget release failed",
			"request_id", r.requestID,
			"allocation_id", r.alloc.ID,
			"error", err,
		)
	}
	r.alloc = nil
}

func classify(err error) audit.Outcome {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeUnauthorized, dErrors.CodeForbidden, dErrors.CodeBudgetExceeded:
		return audit.OutcomeDenied
	case dErrors.CodeTimeout:
		return audit.OutcomeTimeout
	}
	return audit.OutcomeError
}

// reason is the caller-safe description stored on the audit entry.
func reason(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return string(de.Code) + ": " + de.Message
	}
	return string(dErrors.CodeInternal)
}

func failedRecords(sanitized []redaction.SanitizedRecord) int {
	n := 0
	for i := range sanitized {
		if sanitized[i].Failed() {
			n++
		}
	}
	return n
}
