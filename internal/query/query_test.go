package query_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"archivegate/internal/privacy/dp"
	"archivegate/internal/query"
	"archivegate/internal/records"
	"archivegate/internal/records/store"
	dErrors "archivegate/pkg/domain-errors"
)

// =============================================================================
// Query Filter / Paginator Test Suite
// =============================================================================
// Justification for unit tests: cursors are the only client-controlled
// position into the archive. They must survive concurrent inserts without
// skipping or duplicating records and must be rejected when altered.

var base = time.Date(1999, 3, 1, 0, 0, 0, 0, time.UTC)

func val(v records.Value) *records.Value { return &v }

func mk(id, agency string, year int64, minute int) records.Record {
	return records.Record{
		ID:           id,
		Dataset:      "vault",
		SourceAgency: agency,
		FetchedAt:    base.Add(time.Duration(minute) * time.Minute),
		Fields: []records.Field{
			{Name: "year", Value: records.Int(year)},
			{Name: "ref", Value: records.String("FBI-" + id)},
		},
	}
}

type PaginatorSuite struct {
	suite.Suite
	ctx   context.Context
	src   *store.InMemoryStore
	pager *query.Paginator
}

func TestPaginatorSuite(t *testing.T) {
	suite.Run(t, new(PaginatorSuite))
}

func (s *PaginatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.src = store.NewInMemoryStore()
	p, err := query.NewPaginator([]byte("cursor-key"))
	s.Require().NoError(err)
	s.pager = p
}

func (s *PaginatorSuite) put(rs ...records.Record) {
	for _, r := range rs {
		s.Require().NoError(s.src.Put(s.ctx, r))
	}
}

func (s *PaginatorSuite) ids(page *query.Page) []string {
	out := make([]string, len(page.Records))
	for i, r := range page.Records {
		out[i] = r.ID
	}
	return out
}

func (s *PaginatorSuite) agencyYearFilter() *query.Filter {
	f, err := query.Compile([]query.Predicate{
		{Field: query.FieldSourceAgency, Op: query.OpEq, Value: val(records.String("X"))},
		{Field: "year", Op: query.OpEq, Value: val(records.Int(1975))},
	})
	s.Require().NoError(err)
	return f
}

func (s *PaginatorSuite) TestAgencyYearPages() {
	s.put(
		mk("r1", "X", 1975, 1),
		mk("r2", "Y", 1975, 2),
		mk("r3", "X", 1975, 3),
		mk("r4", "X", 1976, 4),
		mk("r5", "X", 1975, 5),
		mk("r6", "X", 1975, 6),
		mk("r7", "Y", 1974, 7),
		mk("r8", "X", 1975, 8),
	)
	f := s.agencyYearFilter()

	page, err := s.pager.Page(s.ctx, s.src, "vault", f, "", 2)
	s.Require().NoError(err)
	s.Equal([]string{"r1", "r3"}, s.ids(page))
	s.Require().NotEmpty(page.NextCursor)

	page, err = s.pager.Page(s.ctx, s.src, "vault", f, page.NextCursor, 2)
	s.Require().NoError(err)
	s.Equal([]string{"r5", "r6"}, s.ids(page))
	s.Require().NotEmpty(page.NextCursor)

	page, err = s.pager.Page(s.ctx, s.src, "vault", f, page.NextCursor, 2)
	s.Require().NoError(err)
	s.Equal([]string{"r8"}, s.ids(page))
	s.Empty(page.NextCursor, "last page has no cursor")
}

func (s *PaginatorSuite) TestStableUnderConcurrentInserts() {
	for i := 0; i < 10; i++ {
		s.put(mk(fmt.Sprintf("r%02d", i), "X", 1975, i))
	}
	f, err := query.Compile(nil)
	s.Require().NoError(err)

	seen := map[string]int{}
	cursor := ""
	for round := 0; ; round++ {
		page, err := s.pager.Page(s.ctx, s.src, "vault", f, cursor, 3)
		s.Require().NoError(err)
		for _, r := range page.Records {
			seen[r.ID]++
		}
		if round == 0 {
			// Behind the cursor: never visited. Ahead of it: visited once.
			s.put(mk("early", "X", 1975, -5), mk("behind", "X", 1975, 1), mk("ahead", "X", 1975, 7), mk("late", "X", 1975, 100))
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		s.Require().Less(round, 20)
	}

	for i := 0; i < 10; i++ {
		s.Equal(1, seen[fmt.Sprintf("r%02d", i)], "r%02d", i)
	}
	s.Equal(1, seen["ahead"])
	s.Equal(1, seen["late"])
	s.Zero(seen["early"])
	s.Zero(seen["behind"])
}

func (s *PaginatorSuite) TestTamperedCursorRejected() {
	for i := 0; i < 5; i++ {
		s.put(mk(fmt.Sprintf("r%d", i), "X", 1975, i))
	}
	f := s.agencyYearFilter()
	page, err := s.pager.Page(s.ctx, s.src, "vault", f, "", 2)
	s.Require().NoError(err)
	cursor := page.NextCursor
	s.Require().NotEmpty(cursor)

	flipped := []byte(cursor)
	if flipped[0] == 'e' {
		flipped[0] = 'f'
	} else {
		flipped[0] = 'e'
	}

	other, err := query.NewPaginator([]byte("another-key"))
	s.Require().NoError(err)
	unfiltered, err := query.Compile(nil)
	s.Require().NoError(err)

	cases := []struct {
		name string
		run  func() error
	}{
		{"altered body", func() error {
			_, err := s.pager.Page(s.ctx, s.src, "vault", f, string(flipped), 2)
			return err
		}},
		{"missing tag", func() error {
			_, err := s.pager.Page(s.ctx, s.src, "vault", f, cursor[:len(cursor)-4], 2)
			return err
		}},
		{"not a cursor", func() error {
			_, err := s.pager.Page(s.ctx, s.src, "vault", f, "offset=40", 2)
			return err
		}},
		{"foreign key", func() error {
			_, err := other.Page(s.ctx, s.src, "vault", f, cursor, 2)
			return err
		}},
		{"different filter", func() error {
			_, err := s.pager.Page(s.ctx, s.src, "vault", unfiltered, cursor, 2)
			return err
		}},
		{"different dataset", func() error {
			_, err := s.pager.Page(s.ctx, s.src, "crest", f, cursor, 2)
			return err
		}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			err := tc.run()
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func (s *PaginatorSuite) TestLimitClamped() {
	p, err := query.NewPaginator([]byte("k"), query.WithLimits(10, 25))
	s.Require().NoError(err)
	s.Equal(10, p.Limit(0))
	s.Equal(7, p.Limit(7))
	s.Equal(25, p.Limit(1000))

	_, err = query.NewPaginator(nil)
	s.ErrorIs(err, query.ErrMissingCursorKey)
}

// =============================================================================
// Filter predicates
// =============================================================================

func TestFilterPredicates(t *testing.T) {
	r := records.Record{
		ID:           "doc-1",
		SourceAgency: "CIA",
		FetchedAt:    base,
		Fields: []records.Field{
			{Name: "year", Value: records.Int(1975)},
			{Name: "ref", Value: records.String("FBI-123-A")},
			{Name: "tags", Value: records.List(records.String("cuba"), records.String("memo"))},
			{Name: "pages", Value: records.Float(12.5)},
		},
	}

	cases := []struct {
		name  string
		pred  query.Predicate
		match bool
	}{
		{"eq int", query.Predicate{Field: "year", Op: query.OpEq, Value: val(records.Int(1975))}, true},
		{"eq int as float", query.Predicate{Field: "year", Op: query.OpEq, Value: val(records.Float(1975))}, true},
		{"range inside", query.Predicate{Field: "year", Op: query.OpRange, Min: val(records.Int(1970)), Max: val(records.Int(1975))}, true},
		{"range above", query.Predicate{Field: "year", Op: query.OpRange, Max: val(records.Int(1974))}, false},
		{"range float", query.Predicate{Field: "pages", Op: query.OpRange, Min: val(records.Int(12))}, true},
		{"range kind mismatch", query.Predicate{Field: "ref", Op: query.OpRange, Min: val(records.Int(1))}, false},
		{"prefix", query.Predicate{Field: "ref", Op: query.OpPrefix, Value: val(records.String("FBI-"))}, true},
		{"prefix miss", query.Predicate{Field: "ref", Op: query.OpPrefix, Value: val(records.String("NSA-"))}, false},
		{"in pseudo field", query.Predicate{Field: query.FieldSourceAgency, Op: query.OpIn, Values: []records.Value{records.String("FBI"), records.String("CIA")}}, true},
		{"regex", query.Predicate{Field: "ref", Op: query.OpRegex, Pattern: `^FBI-\d{3}-`}, true},
		{"regex on number", query.Predicate{Field: "year", Op: query.OpRegex, Pattern: `^197\d$`}, true},
		{"list any element", query.Predicate{Field: "tags", Op: query.OpEq, Value: val(records.String("memo"))}, true},
		{"list no element", query.Predicate{Field: "tags", Op: query.OpEq, Value: val(records.String("ussr"))}, false},
		{"missing field", query.Predicate{Field: "author", Op: query.OpEq, Value: val(records.String("x"))}, false},
		{"id pseudo field", query.Predicate{Field: query.FieldID, Op: query.OpEq, Value: val(records.String("doc-1"))}, true},
		{"fetched_at pseudo field", query.Predicate{Field: query.FieldFetchedAt, Op: query.OpRange, Min: val(records.Time(base.Add(-time.Hour)))}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := query.Compile([]query.Predicate{tc.pred})
			require.NoError(t, err)
			assert.Equal(t, tc.match, f.Match(r))
		})
	}
}

func TestCompileRejectsMalformedPredicates(t *testing.T) {
	cases := map[string]query.Predicate{
		"bad regex":       {Field: "ref", Op: query.OpRegex, Pattern: "("},
		"unknown op":      {Field: "ref", Op: "like", Value: val(records.String("x"))},
		"eq without":      {Field: "ref", Op: query.OpEq},
		"empty range":     {Field: "year", Op: query.OpRange},
		"empty in":        {Field: "year", Op: query.OpIn},
		"non-text prefix": {Field: "ref", Op: query.OpPrefix, Value: val(records.Int(1))},
		"no field":        {Op: query.OpEq, Value: val(records.Int(1))},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := query.Compile([]query.Predicate{p})
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestFingerprintIgnoresOrder(t *testing.T) {
	a := query.Predicate{Field: "year", Op: query.OpEq, Value: val(records.Int(1975))}
	b := query.Predicate{Field: "ref", Op: query.OpPrefix, Value: val(records.String("FBI"))}
	f1, err := query.Compile([]query.Predicate{a, b})
	require.NoError(t, err)
	f2, err := query.Compile([]query.Predicate{b, a})
	require.NoError(t, err)
	f3, err := query.Compile([]query.Predicate{a})
	require.NoError(t, err)

	assert.Equal(t, f1.Fingerprint(), f2.Fingerprint())
	assert.NotEqual(t, f1.Fingerprint(), f3.Fingerprint())
}

// =============================================================================
// Descriptor
// =============================================================================

func TestDescriptorFromJSON(t *testing.T) {
	raw := `{
		"dataset": "vault",
		"query_type": "summary",
		"filters": [
			{"field": "source_agency", "op": "eq", "value": "X"},
			{"field": "year", "op": "range", "min": 1970, "max": 1979}
		],
		"time_range": {"start": "1999-01-01T00:00:00Z"},
		"exclude_fields": ["notes"],
		"limit": 2
	}`
	var d query.Descriptor
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	require.NoError(t, d.Validate())

	assert.Equal(t, query.TypeSummary, d.Type)
	assert.False(t, d.IsAggregate())
	preds := d.Predicates()
	require.Len(t, preds, 3)
	assert.Equal(t, query.FieldFetchedAt, preds[2].Field)

	f, err := query.Compile(preds)
	require.NoError(t, err)
	assert.True(t, f.Match(mk("r1", "X", 1975, 0)))
	assert.False(t, f.Match(mk("r2", "X", 1985, 0)))
}

func TestDescriptorValidate(t *testing.T) {
	cases := map[string]query.Descriptor{
		"no dataset":         {},
		"bad type":           {Dataset: "vault", Type: "everything"},
		"count without agg":  {Dataset: "vault", Type: query.TypeCount},
		"sum without field":  {Dataset: "vault", Aggregate: &dp.AggregateQuery{Kind: dp.KindSum, Epsilon: 0.1}},
		"paginated agg":      {Dataset: "vault", Aggregate: &dp.AggregateQuery{Kind: dp.KindCount, Epsilon: 0.1}, Cursor: "abc"},
		"negative limit":     {Dataset: "vault", Limit: -1},
		"inverted timerange": {Dataset: "vault", TimeRange: &query.TimeRange{Start: base, End: base.Add(-time.Hour)}},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			err := d.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}

	ok := query.Descriptor{Dataset: "vault", Type: query.TypeCount, Aggregate: &dp.AggregateQuery{Kind: dp.KindCount, Epsilon: 0.1}}
	assert.NoError(t, ok.Validate())
	assert.True(t, ok.IsAggregate())
}

func TestCanonicalIsOrderIndependent(t *testing.T) {
	a := query.Predicate{Field: "year", Op: query.OpEq, Value: val(records.Int(1975))}
	b := query.Predicate{Field: "ref", Op: query.OpPrefix, Value: val(records.String("FBI"))}
	d1 := query.Descriptor{Dataset: "vault", Filters: []query.Predicate{a, b}, Exclude: []string{"x", "a"}}
	d2 := query.Descriptor{Dataset: "vault", Filters: []query.Predicate{b, a}, Exclude: []string{"a", "x"}}
	d3 := query.Descriptor{Dataset: "vault", Filters: []query.Predicate{a}}

	assert.Equal(t, d1.Canonical(), d2.Canonical())
	assert.NotEqual(t, d1.Canonical(), d3.Canonical())
	assert.Equal(t, []query.Predicate{a, b}, d1.Filters, "canonical form does not reorder the caller's slice")
}

// =============================================================================
// Raw aggregates
// =============================================================================

func TestCountAndClampedSum(t *testing.T) {
	ctx := context.Background()
	src := store.NewInMemoryStore()
	withPages := func(id string, minute int, v records.Value) records.Record {
		r := mk(id, "X", 1975, minute)
		r.Fields = append(r.Fields, records.Field{Name: "pages", Value: v})
		return r
	}
	for _, r := range []records.Record{
		withPages("a", 1, records.Int(5)),
		withPages("b", 2, records.Int(50)),
		withPages("c", 3, records.Float(-20)),
		withPages("d", 4, records.List(records.Int(3), records.Int(4))),
		withPages("e", 5, records.String("many")),
		mk("f", "Y", 1975, 6),
	} {
		require.NoError(t, src.Put(ctx, r))
	}

	all, err := query.Compile(nil)
	require.NoError(t, err)
	n, err := query.Count(ctx, src, "vault", all)
	require.NoError(t, err)
	assert.Equal(t, float64(6), n)

	sum, err := query.Sum(ctx, src, "vault", all, "pages", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, float64(5+10+0+7), sum)
}

func TestRecrawlDoesNotInflateAggregatesOrPages(t *testing.T) {
	ctx := context.Background()
	src := store.NewInMemoryStore()
	for pass := range 3 {
		require.NoError(t, src.Put(ctx, mk("rec-1", "X", 1975, pass*60)))
	}

	all, err := query.Compile(nil)
	require.NoError(t, err)
	n, err := query.Count(ctx, src, "vault", all)
	require.NoError(t, err)
	assert.Equal(t, 1, int(n))

	p, err := query.NewPaginator([]byte("cursor-key"))
	require.NoError(t, err)
	page, err := p.Page(ctx, src, "vault", all, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "rec-1", page.Records[0].ID)
}
