// Package matcher locates PII inside record field values. Detection is a
// pure function of (field name, value, rule set): the same inputs always
// yield the same spans in the same order.
package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"archivegate/internal/records"
	"archivegate/internal/redaction/models"
)

const defaultClassifierThreshold = 0.7

// Matcher caches compiled rule sets by version and digest.
type Matcher struct {
	mu    sync.Mutex
	cache map[string][]compiledRule

	names *nameLexicon
}

type compiledRule struct {
	rule models.Rule
	re   *regexp.Regexp
	err  error
}

type Option func(*Matcher)

// WithNameLexicon replaces the classifier's known first and last names.
func WithNameLexicon(first, last []string) Option {
	return func(m *Matcher) {
		m.names = newNameLexicon(first, last)
	}
}

func New(opts ...Option) *Matcher {
	m := &Matcher{
		cache: make(map[string][]compiledRule),
		names: newNameLexicon(defaultFirstNames, defaultLastNames),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Normalize is the text form detectors and the engine both work on.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

// Detect returns the spans every applicable rule finds in value. A detector
// that errors or panics contributes a whole-value span for its rule and the
// error is returned alongside, so callers never see less redaction than the
// rule set asks for.
func (m *Matcher) Detect(fieldName string, value records.Value, rs *models.RuleSet) ([]models.MatchSpan, []error) {
	if rs == nil {
		return nil, nil
	}
	rules := m.compiled(rs)

	text := Normalize(value.Text())
	textLen := utf8.RuneCountInString(text)
	var (
		spans []models.MatchSpan
		errs  []error
	)
	for _, cr := range rules {
		if !cr.rule.AppliesTo(fieldName) {
			continue
		}
		found, err := m.run(cr, text)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s on field %s: %w", cr.rule.ID, fieldName, err))
			spans = append(spans, wholeSpan(cr.rule, textLen))
			continue
		}
		if len(found) == 0 {
			continue
		}
		if !value.IsText() {
			// Structured values are redacted as a unit.
			spans = append(spans, wholeSpan(cr.rule, textLen))
			continue
		}
		spans = append(spans, found...)
	}

	sort.SliceStable(spans, func(i, j int) bool {
		a, b := spans[i], spans[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Len() != b.Len() {
			return a.Len() < b.Len()
		}
		return a.RuleID < b.RuleID
	})
	return spans, errs
}

func wholeSpan(rule models.Rule, textLen int) models.MatchSpan {
	return models.MatchSpan{RuleID: rule.ID, Start: 0, End: textLen, Whole: true, Action: rule.Action}
}

func (m *Matcher) run(cr compiledRule, text string) (spans []models.MatchSpan, err error) {
	defer func() {
		if r := recover(); r != nil {
			spans = nil
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	if cr.err != nil {
		return nil, cr.err
	}
	rule := cr.rule
	switch rule.Detector.Kind {
	case models.DetectorWhole:
		return []models.MatchSpan{wholeSpan(rule, utf8.RuneCountInString(text))}, nil
	case models.DetectorExact:
		return termSpans(rule, cr.re, text), nil
	case models.DetectorRegex:
		return regexSpans(rule, cr.re, text), nil
	case models.DetectorClassifier:
		threshold := rule.Detector.Threshold
		if threshold <= 0 {
			threshold = defaultClassifierThreshold
		}
		return m.names.classify(rule, text, threshold), nil
	}
	return nil, fmt.Errorf("unknown detector kind %q", rule.Detector.Kind)
}

func regexSpans(rule models.Rule, re *regexp.Regexp, text string) []models.MatchSpan {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	idx := runeOffsets(text)
	out := make([]models.MatchSpan, 0, len(locs))
	for _, loc := range locs {
		if loc[0] == loc[1] {
			continue
		}
		out = append(out, models.MatchSpan{
			RuleID: rule.ID,
			Start:  idx[loc[0]],
			End:    idx[loc[1]],
			Action: rule.Action,
		})
	}
	return out
}

// termSpans finds whole-word occurrences of an exact term. RE2's \b is
// ASCII-only, so the right boundary lives in the pattern and the left one is
// checked here against the preceding rune.
func termSpans(rule models.Rule, re *regexp.Regexp, text string) []models.MatchSpan {
	var (
		out []models.MatchSpan
		idx []int
	)
	for pos := 0; pos < len(text); {
		loc := re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[2], pos+loc[3]
		if start == end {
			break
		}
		if prev, _ := utf8.DecodeLastRuneInString(text[:start]); start > 0 && isWordRune(prev) {
			_, size := utf8.DecodeRuneInString(text[start:])
			pos = start + size
			continue
		}
		if idx == nil {
			idx = runeOffsets(text)
		}
		out = append(out, models.MatchSpan{
			RuleID: rule.ID,
			Start:  idx[start],
			End:    idx[end],
			Action: rule.Action,
		})
		pos = end
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// runeOffsets maps every byte offset of s (including len(s)) to a rune offset.
func runeOffsets(s string) []int {
	out := make([]int, len(s)+1)
	r := 0
	for i := 0; i < len(s); i++ {
		out[i] = r
		if i+1 == len(s) || utf8.RuneStart(s[i+1]) {
			r++
		}
	}
	out[len(s)] = r
	return out
}

func (m *Matcher) compiled(rs *models.RuleSet) []compiledRule {
	key := rs.Version + "@" + rs.Digest()
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cache[key]; ok {
		return c
	}
	c := make([]compiledRule, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		cr := compiledRule{rule: r}
		switch r.Detector.Kind {
		case models.DetectorRegex:
			cr.re, cr.err = r.Detector.CompilePattern()
		case models.DetectorExact:
			cr.re, cr.err = compileTerms(r.Detector.Terms)
		}
		c = append(c, cr)
	}
	m.cache[key] = c
	return c
}

func compileTerms(terms []string) (*regexp.Regexp, error) {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(Normalize(t))
		if t == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(t))
	}
	if len(quoted) == 0 {
		return nil, fmt.Errorf("exact detector has no usable terms")
	}
	// Longest first so overlapping alternatives prefer the fuller term.
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return regexp.Compile(`(?i)(` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{M}\p{N}_])`)
}
