package matcher

import (
	"strings"
	"unicode"

	"archivegate/internal/redaction/models"
)

var defaultFirstNames = []string{
	"james", "john", "robert", "michael", "william", "david", "richard", "joseph", "thomas", "charles",
	"mary", "patricia", "jennifer", "linda", "elizabeth", "barbara", "susan", "jessica", "sarah", "karen",
	"lee", "harvey", "jack", "edgar", "martin", "luther", "malcolm", "ethel", "julius", "alger",
}

var defaultLastNames = []string{
	"smith", "johnson", "williams", "brown", "jones", "garcia", "miller", "davis", "rodriguez", "martinez",
	"hernandez", "lopez", "gonzalez", "wilson", "anderson", "taylor", "moore", "jackson", "martin", "thompson",
	"oswald", "hoover", "ruby", "king", "rosenberg", "hiss", "kennedy", "white", "harris", "clark",
}

type nameLexicon struct {
	first map[string]struct{}
	last  map[string]struct{}
}

func newNameLexicon(first, last []string) *nameLexicon {
	l := &nameLexicon{first: make(map[string]struct{}), last: make(map[string]struct{})}
	for _, n := range first {
		l.first[strings.ToLower(n)] = struct{}{}
	}
	for _, n := range last {
		l.last[strings.ToLower(n)] = struct{}{}
	}
	return l
}

type token struct {
	text       string
	start, end int // rune offsets
}

// classify scores runs of two or three capitalised words separated by single
// spaces. A run scores 0.4 for its shape, plus 0.3 when its first token is a
// known first name and 0.3 when its last token is a known surname.
func (l *nameLexicon) classify(rule models.Rule, text string, threshold float64) []models.MatchSpan {
	runes := []rune(text)
	tokens := tokenize(runes)

	var out []models.MatchSpan
	for i := 0; i < len(tokens); {
		j := i
		for j < len(tokens) && isCapitalised(tokens[j].text) {
			if j > i && (tokens[j].start != tokens[j-1].end+1 || runes[tokens[j-1].end] != ' ') {
				break
			}
			j++
		}
		run := tokens[i:j]
		if len(run) > 3 {
			run = run[:3]
		}
		if len(run) >= 2 && l.score(run) >= threshold {
			out = append(out, models.MatchSpan{
				RuleID: rule.ID,
				Start:  run[0].start,
				End:    run[len(run)-1].end,
				Action: rule.Action,
			})
		}
		if j > i {
			i = j
		} else {
			i++
		}
	}
	return out
}

func (l *nameLexicon) score(run []token) float64 {
	s := 0.4
	if _, ok := l.first[strings.ToLower(run[0].text)]; ok {
		s += 0.3
	}
	if _, ok := l.last[strings.ToLower(run[len(run)-1].text)]; ok {
		s += 0.3
	}
	return s
}

func tokenize(runes []rune) []token {
	var (
		out   []token
		start = -1
	)
	for i, r := range runes {
		word := unicode.IsLetter(r) || ((r == '\'' || r == '-') && start >= 0)
		if word && start < 0 {
			start = i
		}
		if !word && start >= 0 {
			out = append(out, token{text: string(runes[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, token{text: string(runes[start:]), start: start, end: len(runes)})
	}
	return out
}

func isCapitalised(word string) bool {
	rs := []rune(word)
	if len(rs) < 2 || !unicode.IsUpper(rs[0]) {
		return false
	}
	for _, r := range rs[1:] {
		if unicode.IsUpper(r) {
			return false
		}
	}
	return true
}
