// Package service is the redaction engine: it turns raw records into
// sanitized records under a specific rule-set version.
package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/sync/errgroup"

	"archivegate/internal/records"
	"archivegate/internal/redaction/matcher"
	"archivegate/internal/redaction/models"
	dErrors "archivegate/pkg/domain-errors"
)

const hashKeyInfoPrefix = "archivegate/redaction/hash/"

// Service applies rule sets to records. Redaction is pure given the record,
// the rule set and the configured hash secret.
type Service struct {
	matcher *matcher.Matcher
	secret  []byte
	workers int
	logger  *slog.Logger
	metrics *Metrics

	keys sync.Map // rule-set version -> []byte
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithMatcher(m *matcher.Matcher) Option {
	return func(s *Service) {
		if m != nil {
			s.matcher = m
		}
	}
}

// WithWorkers bounds how many records of a page are redacted concurrently.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New builds an engine. secret keys the hash action; it must be non-empty.
func New(secret []byte, opts ...Option) (*Service, error) {
	if len(secret) == 0 {
		return nil, errors.New("redaction hash secret is required")
	}
	s := &Service{
		matcher: matcher.New(),
		secret:  append([]byte(nil), secret...),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// hashKey derives a per-version key so tokens from different rule-set
// versions are never linkable.
func (s *Service) hashKey(version string) ([]byte, error) {
	if k, ok := s.keys.Load(version); ok {
		return k.([]byte), nil
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.secret, nil, []byte(hashKeyInfoPrefix+version)), key); err != nil {
		return nil, err
	}
	actual, _ := s.keys.LoadOrStore(version, key)
	return actual.([]byte), nil
}

// Redact produces the sanitized form of record. The input is never mutated.
// Detector failures do not fail the call; they are listed in Failures and
// marked in the redaction log after the affected values were fully redacted.
func (s *Service) Redact(ctx context.Context, record records.Record, rs *models.RuleSet) (*models.SanitizedRecord, error) {
	return s.redact(ctx, record, rs, models.Projection{})
}

// RedactPage applies projection then redacts each record concurrently,
// preserving input order.
func (s *Service) RedactPage(ctx context.Context, page []records.Record, rs *models.RuleSet, proj models.Projection) ([]models.SanitizedRecord, error) {
	out := make([]models.SanitizedRecord, len(page))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range page {
		g.Go(func() error {
			sr, err := s.redact(gctx, page[i], rs, proj)
			if err != nil {
				return err
			}
			out[i] = *sr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) redact(ctx context.Context, record records.Record, rs *models.RuleSet, proj models.Projection) (*models.SanitizedRecord, error) {
	if rs == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "rule set is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := s.hashKey(rs.Version)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeRedactionFailure, "derive hash key")
	}
	rulesByID := make(map[string]models.Rule, len(rs.Rules))
	for _, r := range rs.Rules {
		rulesByID[r.ID] = r
	}

	out := &models.SanitizedRecord{
		ID:             record.ID,
		Dataset:        record.Dataset,
		SourceAgency:   record.SourceAgency,
		FetchedAt:      record.FetchedAt,
		RuleSetVersion: rs.Version,
		Fields:         make([]records.Field, 0, len(record.Fields)),
		RedactionLog:   make([]models.FieldRedaction, 0, len(record.Fields)),
	}

	for _, f := range record.Fields {
		if !proj.Keeps(f.Name) {
			continue
		}
		spans, errs := s.matcher.Detect(f.Name, f.Value, rs)
		entry := models.FieldRedaction{Field: f.Name, Action: models.ActionNone, Spans: len(spans), Failed: len(errs) > 0}
		for _, e := range errs {
			out.Failures = append(out.Failures, e.Error())
		}
		if len(spans) == 0 {
			out.Fields = append(out.Fields, records.Field{Name: f.Name, Value: f.Value.Clone()})
			out.RedactionLog = append(out.RedactionLog, entry)
			continue
		}

		entry.Rules = ruleIDs(spans)
		value, action, keep := rewrite(f.Value, spans, rulesByID, key)
		entry.Action = action
		out.RedactionLog = append(out.RedactionLog, entry)
		if s.metrics != nil {
			s.metrics.IncRedactions(action)
		}
		if keep {
			out.Fields = append(out.Fields, records.Field{Name: f.Name, Value: value})
		}
	}

	if len(out.Failures) > 0 {
		if s.metrics != nil {
			s.metrics.IncDetectorFailures()
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "detector failures during redaction",
				"record_id", record.ID,
				"rule_set_version", rs.Version,
				"failures", len(out.Failures),
			)
		}
	}
	return out, nil
}

type mergedSpan struct {
	start, end int
	whole      bool
	action     models.Action
	rule       models.Rule
}

// merge unions overlapping spans. Each merged span carries the most
// restrictive action of its contributors. Any whole-value span absorbs
// everything.
func merge(spans []models.MatchSpan, rules map[string]models.Rule) []mergedSpan {
	var whole *mergedSpan
	for _, sp := range spans {
		if !sp.Whole {
			continue
		}
		whole = &mergedSpan{start: sp.Start, end: sp.End, whole: true, action: sp.Action, rule: rules[sp.RuleID]}
		break
	}
	if whole != nil {
		for _, sp := range spans {
			if sp.Action.Restrictiveness() > whole.action.Restrictiveness() {
				whole.action = sp.Action
				whole.rule = rules[sp.RuleID]
			}
		}
		return []mergedSpan{*whole}
	}

	var out []mergedSpan
	for _, sp := range spans {
		if n := len(out); n > 0 && sp.Start < out[n-1].end {
			cur := &out[n-1]
			if sp.End > cur.end {
				cur.end = sp.End
			}
			if sp.Action.Restrictiveness() > cur.action.Restrictiveness() {
				cur.action = sp.Action
				cur.rule = rules[sp.RuleID]
			}
			continue
		}
		out = append(out, mergedSpan{start: sp.Start, end: sp.End, action: sp.Action, rule: rules[sp.RuleID]})
	}
	return out
}

// rewrite applies merged spans to v. keep is false when the field is dropped.
func rewrite(v records.Value, spans []models.MatchSpan, rules map[string]models.Rule, key []byte) (out records.Value, strongest models.Action, keep bool) {
	merged := merge(spans, rules)
	strongest = models.ActionNone
	for _, m := range merged {
		strongest = models.Stricter(strongest, m.action)
	}

	text := matcher.Normalize(v.Text())
	if len(merged) == 1 && merged[0].whole {
		m := merged[0]
		if m.action == models.ActionDrop {
			return records.Value{}, strongest, false
		}
		if !v.IsText() {
			return applyStructured(m.action, m.rule, key, v, text), strongest, true
		}
		return records.String(applyText(m.action, m.rule, key, text)), strongest, true
	}

	runes := []rune(text)
	for i := len(merged) - 1; i >= 0; i-- {
		m := merged[i]
		if m.start < 0 || m.end > len(runes) || m.start > m.end {
			// Offsets from a different text than ours: redact everything.
			return records.String(maskText(text, m.rule)), models.Stricter(strongest, models.ActionMask), true
		}
		replacement := []rune(applyText(m.action, m.rule, key, string(runes[m.start:m.end])))
		runes = append(runes[:m.start], append(replacement, runes[m.end:]...)...)
	}
	return records.String(string(runes)), strongest, true
}

func ruleIDs(spans []models.MatchSpan) []string {
	seen := make(map[string]struct{}, len(spans))
	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		if _, ok := seen[sp.RuleID]; ok {
			continue
		}
		seen[sp.RuleID] = struct{}{}
		out = append(out, sp.RuleID)
	}
	sort.Strings(out)
	return out
}
