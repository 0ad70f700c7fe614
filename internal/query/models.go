// Package query describes archive queries and evaluates their filters with
// stable keyset pagination.
package query

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"archivegate/internal/privacy/dp"
	"archivegate/internal/records"
	dErrors "archivegate/pkg/domain-errors"
)

// Type selects the response shape.
type Type string

const (
	TypeFull    Type = "full"
	TypeSummary Type = "summary"
	TypeCount   Type = "count"
)

func (t Type) IsValid() bool {
	return t == TypeFull || t == TypeSummary || t == TypeCount
}

// TimeRange bounds fetched_at. Either end may be zero.
type TimeRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Descriptor is a client query as received by the pipeline.
type Descriptor struct {
	Dataset   string             `json:"dataset"`
	Type      Type               `json:"query_type,omitempty"`
	Filters   []Predicate        `json:"filters,omitempty"`
	TimeRange *TimeRange         `json:"time_range,omitempty"`
	Aggregate *dp.AggregateQuery `json:"aggregate,omitempty"`
	Cursor    string             `json:"cursor,omitempty"`
	Limit     int                `json:"limit,omitempty"`
	Include   []string           `json:"include_fields,omitempty"`
	Exclude   []string           `json:"exclude_fields,omitempty"`
}

// Validate checks the descriptor shape and fills the default query type.
func (d *Descriptor) Validate() error {
	if d.Dataset == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "dataset is required")
	}
	if d.Type == "" {
		d.Type = TypeFull
	}
	if !d.Type.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "query_type must be full, summary or count")
	}
	if d.Limit < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "limit must not be negative")
	}
	if d.Type == TypeCount && (d.Aggregate == nil || d.Aggregate.Kind != dp.KindCount) {
		return dErrors.New(dErrors.CodeInvalidInput, "count queries need a count aggregate with epsilon")
	}
	if d.Aggregate != nil {
		if !d.Aggregate.Kind.IsValid() {
			return dErrors.New(dErrors.CodeInvalidInput, "aggregate kind must be count or sum")
		}
		if d.Aggregate.Kind == dp.KindSum && d.Aggregate.Field == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "sum aggregate needs a field")
		}
		if d.Cursor != "" {
			return dErrors.New(dErrors.CodeInvalidInput, "aggregates are not paginated")
		}
	}
	if d.TimeRange != nil && !d.TimeRange.Start.IsZero() && !d.TimeRange.End.IsZero() && d.TimeRange.End.Before(d.TimeRange.Start) {
		return dErrors.New(dErrors.CodeInvalidInput, "time_range end is before start")
	}
	for _, p := range d.Filters {
		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsAggregate reports whether the query returns a noisy aggregate instead of records.
func (d Descriptor) IsAggregate() bool {
	return d.Aggregate != nil
}

// Predicates returns the filters with the time range folded in as a
// fetched_at range.
func (d Descriptor) Predicates() []Predicate {
	preds := slices.Clone(d.Filters)
	if d.TimeRange == nil {
		return preds
	}
	p := Predicate{Field: FieldFetchedAt, Op: OpRange}
	if !d.TimeRange.Start.IsZero() {
		v := records.Time(d.TimeRange.Start)
		p.Min = &v
	}
	if !d.TimeRange.End.IsZero() {
		v := records.Time(d.TimeRange.End)
		p.Max = &v
	}
	if p.Min != nil || p.Max != nil {
		preds = append(preds, p)
	}
	return preds
}

// Canonical renders the descriptor deterministically: filters and field lists
// are sorted so equivalent queries produce the same string.
func (d Descriptor) Canonical() string {
	c := d
	c.Filters = sortedPredicates(d.Filters)
	c.Include = sortedStrings(d.Include)
	c.Exclude = sortedStrings(d.Exclude)
	if c.TimeRange != nil {
		tr := TimeRange{Start: c.TimeRange.Start.UTC(), End: c.TimeRange.End.UTC()}
		c.TimeRange = &tr
	}
	raw, err := json.Marshal(c)
	if err != nil {
		// Non-finite float filter values cannot be encoded as JSON.
		return fmt.Sprintf("%+v", c)
	}
	return string(raw)
}

func sortedPredicates(preds []Predicate) []Predicate {
	if len(preds) == 0 {
		return nil
	}
	type keyed struct {
		key  string
		pred Predicate
	}
	ks := make([]keyed, len(preds))
	for i, p := range preds {
		if p.Values != nil {
			p.Values = slices.Clone(p.Values)
		}
		raw, _ := json.Marshal(p)
		ks[i] = keyed{key: string(raw), pred: p}
	}
	sort.SliceStable(ks, func(i, j int) bool { return ks[i].key < ks[j].key })
	out := make([]Predicate, len(ks))
	for i, k := range ks {
		out[i] = k.pred
	}
	return out
}

func sortedStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	sort.Strings(out)
	return out
}

// Page is one window of matching records.
type Page struct {
	Records    []records.Record
	NextCursor string
}
