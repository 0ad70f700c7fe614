package query

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"archivegate/internal/records"
	dErrors "archivegate/pkg/domain-errors"
)

// Op is a filter operator.
type Op string

const (
	OpEq     Op = "eq"
	OpRange  Op = "range"
	OpPrefix Op = "prefix"
	OpIn     Op = "in"
	OpRegex  Op = "regex"
)

// Pseudo-fields resolve to record metadata rather than a named field.
const (
	FieldID           = "id"
	FieldSourceAgency = "source_agency"
	FieldFetchedAt    = "fetched_at"
)

const maxPatternLen = 256

// Predicate is one conjunct of a filter.
type Predicate struct {
	Field   string          `json:"field"`
	Op      Op              `json:"op"`
	Value   *records.Value  `json:"value,omitempty"`
	Min     *records.Value  `json:"min,omitempty"`
	Max     *records.Value  `json:"max,omitempty"`
	Values  []records.Value `json:"values,omitempty"`
	Pattern string          `json:"pattern,omitempty"`
}

func (p Predicate) validate() error {
	if p.Field == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "filter field is required")
	}
	switch p.Op {
	case OpEq, OpPrefix:
		if p.Value == nil {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s filter on %s needs a value", p.Op, p.Field))
		}
		if p.Op == OpPrefix && !p.Value.IsText() {
			return dErrors.New(dErrors.CodeInvalidInput, "prefix filter needs a string value")
		}
	case OpRange:
		if p.Min == nil && p.Max == nil {
			return dErrors.New(dErrors.CodeInvalidInput, "range filter on "+p.Field+" needs min or max")
		}
	case OpIn:
		if len(p.Values) == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "in filter on "+p.Field+" needs values")
		}
	case OpRegex:
		if p.Pattern == "" || len(p.Pattern) > maxPatternLen {
			return dErrors.New(dErrors.CodeInvalidInput, "regex filter on "+p.Field+" needs a pattern under 256 bytes")
		}
	default:
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown filter op %q", p.Op))
	}
	return nil
}

// Filter is a compiled conjunction of predicates.
type Filter struct {
	preds       []compiled
	fingerprint string
}

type compiled struct {
	Predicate
	re *regexp.Regexp
}

// Compile validates predicates and prepares regexes. An empty list matches
// every record.
func Compile(preds []Predicate) (*Filter, error) {
	f := &Filter{preds: make([]compiled, 0, len(preds))}
	for _, p := range preds {
		if err := p.validate(); err != nil {
			return nil, err
		}
		c := compiled{Predicate: p}
		if p.Op == OpRegex {
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid regex filter on "+p.Field)
			}
			c.re = re
		}
		f.preds = append(f.preds, c)
	}
	raw, _ := json.Marshal(sortedPredicates(preds))
	sum := sha256.Sum256(raw)
	f.fingerprint = hex.EncodeToString(sum[:8])
	return f, nil
}

// Fingerprint identifies the predicate set independent of its order.
func (f *Filter) Fingerprint() string {
	return f.fingerprint
}

// Match reports whether r satisfies every predicate. A record without the
// field never matches. List values match when any element does.
func (f *Filter) Match(r records.Record) bool {
	for _, p := range f.preds {
		v, ok := lookup(r, p.Field)
		if !ok || !p.matchValue(v) {
			return false
		}
	}
	return true
}

func lookup(r records.Record, field string) (records.Value, bool) {
	if v, ok := r.Get(field); ok {
		return v, true
	}
	switch field {
	case FieldID:
		return records.String(r.ID), true
	case FieldSourceAgency:
		return records.String(r.SourceAgency), true
	case FieldFetchedAt:
		return records.Time(r.FetchedAt), true
	}
	return records.Value{}, false
}

func (c compiled) matchValue(v records.Value) bool {
	if v.Kind == records.KindList {
		for _, item := range v.List {
			if c.matchValue(item) {
				return true
			}
		}
		return false
	}
	switch c.Op {
	case OpEq:
		return v.Equal(*c.Value)
	case OpRange:
		if c.Min != nil {
			cmp, ok := v.Compare(*c.Min)
			if !ok || cmp < 0 {
				return false
			}
		}
		if c.Max != nil {
			cmp, ok := v.Compare(*c.Max)
			if !ok || cmp > 0 {
				return false
			}
		}
		return true
	case OpPrefix:
		return v.IsText() && strings.HasPrefix(v.Str, c.Value.Str)
	case OpIn:
		for _, candidate := range c.Values {
			if v.Equal(candidate) {
				return true
			}
		}
		return false
	case OpRegex:
		return c.re.MatchString(v.Text())
	}
	return false
}
