package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"time"

	"archivegate/internal/records"
	dErrors "archivegate/pkg/domain-errors"
)

// DetectorKind is the closed set of PII detectors a rule can use.
type DetectorKind string

const (
	// DetectorExact matches a case-insensitive, word-bounded term list.
	DetectorExact DetectorKind = "exact"
	// DetectorRegex matches a named pattern class or a custom pattern.
	DetectorRegex DetectorKind = "regex"
	// DetectorClassifier scores capitalised token runs as likely person names.
	DetectorClassifier DetectorKind = "classifier"
	// DetectorWhole matches the entire value of every field the rule selects.
	DetectorWhole DetectorKind = "whole"
)

func (k DetectorKind) IsValid() bool {
	switch k {
	case DetectorExact, DetectorRegex, DetectorClassifier, DetectorWhole:
		return true
	}
	return false
}

// Action is what the engine does to a matched span.
type Action string

const (
	ActionNone       Action = "none"
	ActionMask       Action = "mask"
	ActionGeneralize Action = "generalize"
	ActionHash       Action = "hash"
	ActionDrop       Action = "drop"
)

func (a Action) IsValid() bool {
	switch a {
	case ActionMask, ActionGeneralize, ActionHash, ActionDrop:
		return true
	}
	return false
}

// Restrictiveness orders actions: drop > hash > generalize > mask > none.
func (a Action) Restrictiveness() int {
	switch a {
	case ActionDrop:
		return 4
	case ActionHash:
		return 3
	case ActionGeneralize:
		return 2
	case ActionMask:
		return 1
	}
	return 0
}

// Stricter returns the more restrictive of a and b.
func Stricter(a, b Action) Action {
	if b.Restrictiveness() > a.Restrictiveness() {
		return b
	}
	return a
}

// Named regex classes available to DetectorRegex rules.
const (
	ClassEmail      = "email"
	ClassPhoneUS    = "phone_us"
	ClassSSN        = "ssn"
	ClassPersonName = "person_name"
	ClassIP         = "ip"
	ClassDate       = "date"
)

var regexClasses = map[string]string{
	ClassEmail:      `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
	ClassPhoneUS:    `(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]\d{4}\b`,
	ClassSSN:        `\b\d{3}-\d{2}-\d{4}\b`,
	ClassPersonName: `\p{Lu}\p{Ll}+ \p{Lu}\p{Ll}+`,
	ClassIP:         `\b(?:\d{1,3}\.){3}\d{1,3}\b`,
	ClassDate:       `\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})\b`,
}

// ClassPattern returns the regular expression for a named class.
func ClassPattern(class string) (string, bool) {
	p, ok := regexClasses[class]
	return p, ok
}

// Detector configures how a rule finds PII.
type Detector struct {
	Kind      DetectorKind `yaml:"kind" json:"kind"`
	Terms     []string     `yaml:"terms,omitempty" json:"terms,omitempty"`
	Class     string       `yaml:"class,omitempty" json:"class,omitempty"`
	Pattern   string       `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Threshold float64      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

// Rule is one redaction rule. FieldPattern is a glob over field names.
type Rule struct {
	ID             string   `yaml:"id" json:"id"`
	FieldPattern   string   `yaml:"field_pattern" json:"field_pattern"`
	Detector       Detector `yaml:"detector" json:"detector"`
	Action         Action   `yaml:"action" json:"action"`
	MaskChar       string   `yaml:"mask_char,omitempty" json:"mask_char,omitempty"`
	PreserveLength *bool    `yaml:"preserve_length,omitempty" json:"preserve_length,omitempty"`
}

// AppliesTo reports whether the rule selects fieldName.
func (r Rule) AppliesTo(fieldName string) bool {
	ok, err := path.Match(r.FieldPattern, fieldName)
	return err == nil && ok
}

// MaskRune returns the rune used for masking, '*' by default.
func (r Rule) MaskRune() rune {
	for _, c := range r.MaskChar {
		return c
	}
	return '*'
}

// KeepsLength reports whether masking preserves the original length.
func (r Rule) KeepsLength() bool {
	return r.PreserveLength == nil || *r.PreserveLength
}

// RuleSet is a versioned, immutable collection of rules.
type RuleSet struct {
	Version     string    `yaml:"version" json:"version"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	CreatedAt   time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	Rules       []Rule    `yaml:"rules" json:"rules"`
}

// Validate checks structural invariants. Regex compilation problems are not
// rejected here; the matcher fails closed on them at detection time.
func (rs *RuleSet) Validate() error {
	if rs == nil {
		return dErrors.New(dErrors.CodeValidation, "rule set is required")
	}
	if rs.Version == "" {
		return dErrors.New(dErrors.CodeValidation, "rule set version is required")
	}
	seen := make(map[string]struct{}, len(rs.Rules))
	for i, r := range rs.Rules {
		if r.ID == "" {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("rule %d has no id", i))
		}
		if _, dup := seen[r.ID]; dup {
			return dErrors.New(dErrors.CodeValidation, "duplicate rule id "+r.ID)
		}
		seen[r.ID] = struct{}{}
		if _, err := path.Match(r.FieldPattern, ""); err != nil || r.FieldPattern == "" {
			return dErrors.New(dErrors.CodeValidation, "rule "+r.ID+" has an invalid field_pattern")
		}
		if !r.Action.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "rule "+r.ID+" has an invalid action")
		}
		if !r.Detector.Kind.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "rule "+r.ID+" has an invalid detector kind")
		}
		switch r.Detector.Kind {
		case DetectorExact:
			if len(r.Detector.Terms) == 0 {
				return dErrors.New(dErrors.CodeValidation, "rule "+r.ID+" exact detector needs terms")
			}
		case DetectorRegex:
			if r.Detector.Class == "" && r.Detector.Pattern == "" {
				return dErrors.New(dErrors.CodeValidation, "rule "+r.ID+" regex detector needs a class or pattern")
			}
			if r.Detector.Class != "" {
				if _, ok := regexClasses[r.Detector.Class]; !ok {
					return dErrors.New(dErrors.CodeValidation, "rule "+r.ID+" names unknown regex class "+r.Detector.Class)
				}
			}
		}
	}
	return nil
}

// Digest identifies the rule set body; two bodies under one version conflict.
func (rs *RuleSet) Digest() string {
	body, _ := json.Marshal(struct {
		Version string `json:"version"`
		Rules   []Rule `json:"rules"`
	}{rs.Version, rs.Rules})
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CompilePattern compiles the detector's regular expression.
func (d Detector) CompilePattern() (*regexp.Regexp, error) {
	expr := d.Pattern
	if d.Class != "" {
		expr = regexClasses[d.Class]
	}
	return regexp.Compile(expr)
}

// MatchSpan is one detection inside a field value. Start and End are rune
// offsets into the normalized text; Whole spans cover the entire value.
type MatchSpan struct {
	RuleID string `json:"rule_id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Whole  bool   `json:"whole,omitempty"`
	Action Action `json:"action"`
}

func (s MatchSpan) Len() int { return s.End - s.Start }

// FieldRedaction is the redaction log entry for one inspected field.
type FieldRedaction struct {
	Field  string   `json:"field"`
	Action Action   `json:"action"`
	Spans  int      `json:"spans"`
	Rules  []string `json:"rules,omitempty"`
	Failed bool     `json:"failed,omitempty"`
}

// SanitizedRecord is the redacted projection of a record that may leave the
// service.
type SanitizedRecord struct {
	ID             string           `json:"id"`
	Dataset        string           `json:"dataset"`
	SourceAgency   string           `json:"source_agency"`
	FetchedAt      time.Time        `json:"fetched_at"`
	Fields         []records.Field  `json:"fields"`
	RuleSetVersion string           `json:"rule_set_version"`
	RedactionLog   []FieldRedaction `json:"redaction_log"`
	Failures       []string         `json:"-"`
}

// Failed reports whether any detector failed while producing the record.
func (s *SanitizedRecord) Failed() bool {
	return len(s.Failures) > 0
}

// Projection limits which fields are redacted and returned.
type Projection struct {
	Include []string
	Exclude []string
}

// Keeps reports whether fieldName survives the projection.
func (p Projection) Keeps(fieldName string) bool {
	if len(p.Include) > 0 && !contains(p.Include, fieldName) {
		return false
	}
	return !contains(p.Exclude, fieldName)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
