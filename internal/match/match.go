// Package match compares user-named entities against catalog titles and
// authors after Unicode folding.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// minSubstringLen guards substring matching against tiny fragments like "it".
const minSubstringLen = 4

// DefaultThreshold is the similarity ratio above which two strings match.
const DefaultThreshold = 0.85

// Normalize applies NFKD, drops non-ASCII, lowercases, turns punctuation
// into spaces and collapses whitespace. "Café  Société!" becomes "cafe societe".
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range norm.NFKD.String(s) {
		if r > unicode.MaxASCII {
			continue
		}
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Matcher decides whether an entity names one of a set of candidates.
type Matcher struct {
	threshold float64
}

// New creates a Matcher. A threshold outside (0, 1] uses DefaultThreshold.
func New(threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Find returns the first candidate that entity matches.
func (m *Matcher) Find(entity string, candidates []string) (string, bool) {
	target := Normalize(entity)
	if target == "" {
		return "", false
	}
	for _, c := range candidates {
		if m.matches(target, Normalize(c)) {
			return c, true
		}
	}
	return "", false
}

// Match reports whether entity and candidate name the same thing.
func (m *Matcher) Match(entity, candidate string) bool {
	target := Normalize(entity)
	return target != "" && m.matches(target, Normalize(candidate))
}

func (m *Matcher) matches(target, cand string) bool {
	if cand == "" {
		return false
	}
	if target == cand {
		return true
	}
	if len(target) >= minSubstringLen && strings.Contains(cand, target) {
		return true
	}
	if len(target) >= minSubstringLen && tokenSubset(target, cand) {
		return true
	}
	if len(cand) >= minSubstringLen && onlyMinorExtras(target, cand) {
		return true
	}
	return Similarity(target, cand) >= m.threshold
}

// particles are tokens a longer entity may add to a candidate without naming
// a different work or person.
var particles = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "by": {},
	"de": {}, "del": {}, "der": {}, "di": {}, "du": {}, "la": {}, "le": {}, "van": {}, "von": {},
}

// onlyMinorExtras reports whether target is cand plus initials or particles.
// "j k rowling" fits "rowling", "dune messiah" does not fit "dune".
func onlyMinorExtras(target, cand string) bool {
	if !tokenSubset(cand, target) {
		return false
	}
	have := make(map[string]struct{})
	for _, tok := range strings.Fields(cand) {
		have[tok] = struct{}{}
	}
	for _, tok := range strings.Fields(target) {
		if _, ok := have[tok]; ok {
			continue
		}
		if _, ok := particles[tok]; ok {
			continue
		}
		if len(tok) == 1 && tok[0] >= 'a' && tok[0] <= 'z' {
			continue
		}
		return false
	}
	return true
}

// tokenSubset reports whether every token of target appears in cand.
// "rowling" is a subset of "j k rowling".
func tokenSubset(target, cand string) bool {
	have := make(map[string]struct{})
	for _, tok := range strings.Fields(cand) {
		have[tok] = struct{}{}
	}
	tokens := strings.Fields(target)
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if _, ok := have[tok]; !ok {
			return false
		}
	}
	return true
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)).
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
