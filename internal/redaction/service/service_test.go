package service

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"archivegate/internal/records"
	"archivegate/internal/redaction/models"
)

// =============================================================================
// Redaction Engine Test Suite
// =============================================================================
// Justification for unit tests: span merging, action precedence and the
// keyed hash format decide what leaves the service; they need exact checks
// that end-to-end tests cannot express.

type EngineSuite struct {
	suite.Suite
	ctx context.Context
	svc *Service
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	var err error
	s.svc, err = New([]byte("test-secret"), WithWorkers(4))
	s.Require().NoError(err)
}

var hashTokenPattern = regexp.MustCompile(`^\[REDACTED_[0-9a-f]{8}\]$`)

func rule(id, field string, det models.Detector, action models.Action) models.Rule {
	return models.Rule{ID: id, FieldPattern: field, Detector: det, Action: action}
}

func ssnRule(action models.Action) models.Rule {
	return rule("ssn", "*", models.Detector{Kind: models.DetectorRegex, Class: models.ClassSSN}, action)
}

func record(fields ...records.Field) records.Record {
	return records.Record{
		ID:           "rec-1",
		Dataset:      "fbi",
		SourceAgency: "fbi",
		FetchedAt:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Fields:       fields,
	}
}

func field(name string, v records.Value) records.Field {
	return records.Field{Name: name, Value: v}
}

func (s *EngineSuite) redact(r records.Record, rules ...models.Rule) *models.SanitizedRecord {
	out, err := s.svc.Redact(s.ctx, r, &models.RuleSet{Version: "v1", Rules: rules})
	s.Require().NoError(err)
	return out
}

func (s *EngineSuite) get(sr *models.SanitizedRecord, name string) (records.Value, bool) {
	for _, f := range sr.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return records.Value{}, false
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *EngineSuite) TestNew() {
	_, err := New(nil)
	s.Error(err)
}

// =============================================================================
// Action Tests
// =============================================================================

func (s *EngineSuite) TestMask() {
	s.Run("preserves length by default", func() {
		out := s.redact(record(field("body", records.String("SSN 123-45-6789"))), ssnRule(models.ActionMask))
		v, _ := s.get(out, "body")
		s.Equal("SSN ***********", v.Str)
	})

	s.Run("fixed marker when length is not preserved", func() {
		r := ssnRule(models.ActionMask)
		keep := false
		r.PreserveLength = &keep
		out := s.redact(record(field("body", records.String("SSN 123-45-6789"))), r)
		v, _ := s.get(out, "body")
		s.Equal("SSN [REDACTED]", v.Str)
	})
}

func (s *EngineSuite) TestHash() {
	r := record(field("a", records.String("123-45-6789")), field("b", records.String("see 123-45-6789")))
	out := s.redact(r, ssnRule(models.ActionHash))

	a, _ := s.get(out, "a")
	b, _ := s.get(out, "b")
	s.Regexp(hashTokenPattern, a.Str)
	s.Equal("see "+a.Str, b.Str, "same entity hashes to the same token")

	other, err := s.svc.Redact(s.ctx, r, &models.RuleSet{Version: "v2", Rules: []models.Rule{ssnRule(models.ActionHash)}})
	s.Require().NoError(err)
	a2, _ := s.get(other, "a")
	s.NotEqual(a.Str, a2.Str, "tokens are keyed per rule-set version")
}

func (s *EngineSuite) TestGeneralize() {
	whole := models.Detector{Kind: models.DetectorWhole}
	r := record(
		field("born", records.Time(time.Date(1939, 10, 18, 0, 0, 0, 0, time.UTC))),
		field("age", records.Int(37)),
		field("city", records.String("Dallas")),
		field("note", records.String("filed 1975-03-02")),
	)
	out := s.redact(r,
		rule("born", "born", whole, models.ActionGeneralize),
		rule("age", "age", whole, models.ActionGeneralize),
		rule("city", "city", whole, models.ActionGeneralize),
		rule("date", "note", models.Detector{Kind: models.DetectorRegex, Class: models.ClassDate}, models.ActionGeneralize),
	)

	born, _ := s.get(out, "born")
	s.Equal(records.Int(1939), born)
	age, _ := s.get(out, "age")
	s.Equal("30-39", age.Str)
	city, _ := s.get(out, "city")
	s.Equal("D*", city.Str)
	note, _ := s.get(out, "note")
	s.Equal("filed 1975", note.Str)
}

func (s *EngineSuite) TestDrop() {
	s.Run("whole-field drop removes the field", func() {
		out := s.redact(
			record(field("full_name", records.String("Julius Rosenberg")), field("title", records.String("memo"))),
			rule("names", "full_name", models.Detector{Kind: models.DetectorWhole}, models.ActionDrop),
		)
		_, ok := s.get(out, "full_name")
		s.False(ok)
		s.Require().Len(out.RedactionLog, 2)
		s.Equal(models.ActionDrop, out.RedactionLog[0].Action)
		s.Equal(models.ActionNone, out.RedactionLog[1].Action)
	})

	s.Run("span drop removes only the span", func() {
		out := s.redact(record(field("body", records.String("ssn 123-45-6789 on file"))), ssnRule(models.ActionDrop))
		v, ok := s.get(out, "body")
		s.True(ok)
		s.Equal("ssn  on file", v.Str)
	})
}

// =============================================================================
// Merge and Precedence Tests
// =============================================================================

func (s *EngineSuite) TestOverlappingSpansTakeStrictestAction() {
	digits := rule("digits", "*", models.Detector{Kind: models.DetectorRegex, Pattern: `\d+`}, models.ActionMask)
	out := s.redact(record(field("body", records.String("file 123-45-6789"))), digits, ssnRule(models.ActionHash))

	v, _ := s.get(out, "body")
	s.Regexp(regexp.MustCompile(`^file \[REDACTED_[0-9a-f]{8}\]$`), v.Str)
	s.Equal(models.ActionHash, out.RedactionLog[0].Action)
	s.Equal([]string{"digits", "ssn"}, out.RedactionLog[0].Rules)
}

func (s *EngineSuite) TestRedactionLogCoversEveryField() {
	out := s.redact(
		record(field("title", records.String("memo")), field("body", records.String("123-45-6789")), field("pages", records.Int(3))),
		ssnRule(models.ActionMask),
	)
	s.Require().Len(out.RedactionLog, 3)
	s.Equal("v1", out.RuleSetVersion)
	for _, entry := range out.RedactionLog {
		if entry.Field == "body" {
			s.Equal(models.ActionMask, entry.Action)
			continue
		}
		s.Equal(models.ActionNone, entry.Action)
	}
}

func (s *EngineSuite) TestOriginalRecordIsNotMutated() {
	r := record(field("body", records.String("123-45-6789")))
	s.redact(r, ssnRule(models.ActionMask))
	s.Equal("123-45-6789", r.Fields[0].Value.Str)
}

func (s *EngineSuite) TestDetectorFailureRedactsWholeValue() {
	broken := rule("broken", "body", models.Detector{Kind: models.DetectorRegex, Pattern: "(["}, models.ActionMask)
	out := s.redact(record(field("body", records.String("secret")), field("title", records.String("memo"))), broken)

	v, _ := s.get(out, "body")
	s.Equal("******", v.Str)
	s.True(out.Failed())
	s.True(out.RedactionLog[0].Failed)
	s.False(out.RedactionLog[1].Failed)
}

func (s *EngineSuite) TestRedactIsDeterministic() {
	rules := []models.Rule{
		ssnRule(models.ActionHash),
		rule("email", "*", models.Detector{Kind: models.DetectorRegex, Class: models.ClassEmail}, models.ActionMask),
		rule("names", "*", models.Detector{Kind: models.DetectorClassifier}, models.ActionGeneralize),
	}
	for i := range 50 {
		r := record(
			field("body", records.String(fmt.Sprintf("John Smith %03d-45-6789 js%d@fbi.gov", i, i))),
			field("n", records.Int(int64(i))),
		)
		first := s.redact(r, rules...)
		second := s.redact(r, rules...)
		s.Equal(first, second)
	}
}

// =============================================================================
// Page Tests
// =============================================================================

func (s *EngineSuite) TestRedactPageAppliesProjectionAndKeepsOrder() {
	var page []records.Record
	for i := range 20 {
		r := record(field("title", records.String(fmt.Sprint(i))), field("body", records.String("123-45-6789")), field("internal", records.Bool(true)))
		r.ID = fmt.Sprint(i)
		page = append(page, r)
	}
	rs := &models.RuleSet{Version: "v1", Rules: []models.Rule{ssnRule(models.ActionMask)}}

	out, err := s.svc.RedactPage(s.ctx, page, rs, models.Projection{Exclude: []string{"internal"}})
	s.Require().NoError(err)
	s.Require().Len(out, 20)
	for i, sr := range out {
		s.Equal(fmt.Sprint(i), sr.ID)
		s.Len(sr.Fields, 2)
		_, ok := s.get(&sr, "internal")
		s.False(ok)
	}
}

func (s *EngineSuite) TestNilRuleSetRejected() {
	_, err := s.svc.Redact(s.ctx, record(), nil)
	s.Error(err)
}
