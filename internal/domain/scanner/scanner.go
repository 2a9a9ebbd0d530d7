// Package scanner finds dollar-denominated prices in free text.
//
// A Scanner walks the text left to right. At every '$' it tries its rules in
// priority order and takes the first that matches, so "$2.5M" is read as a
// single token rather than "$2.5" followed by a stray letter. Matches never
// overlap. Text without a '$' anchor never produces a match.
package scanner

import (
	"iter"
	"slices"
	"strings"
)

// Match is one price found in a text.
type Match struct {
	Start int    // byte offset of the '$'
	End   int    // exclusive byte offset, after any USD marker
	Raw   string // text[Start:End]
	Token string // numeric portion including magnitude suffix
	Rule  string
}

// Scanner tokenizes prices with an ordered rule list.
type Scanner struct {
	rules []Rule
	usd   Rule
}

// New returns a scanner with the default rules.
func New() *Scanner {
	return WithRules(DefaultRules()...)
}

// WithRules returns a scanner trying rules in the given order.
func WithRules(rules ...Rule) *Scanner {
	return &Scanner{
		rules: slices.Clone(rules),
		usd:   mustRule("usd", SuffixPattern),
	}
}

// Rules returns the scanner's rules in priority order.
func (s *Scanner) Rules() []Rule {
	return slices.Clone(s.rules)
}

// Scan returns a lazy sequence of matches. The sequence can be ranged over
// any number of times.
func (s *Scanner) Scan(text string) iter.Seq[Match] {
	return func(yield func(Match) bool) {
		pos := 0
		for pos < len(text) {
			i := strings.IndexByte(text[pos:], '$')
			if i < 0 {
				return
			}
			start := pos + i

			m, ok := s.matchAt(text, start)
			if !ok {
				pos = start + 1
				continue
			}
			if !yield(m) {
				return
			}
			pos = m.End
		}
	}
}

// FindAll collects every match in text.
func (s *Scanner) FindAll(text string) []Match {
	return slices.Collect(s.Scan(text))
}

// Contains reports whether text holds at least one price.
func (s *Scanner) Contains(text string) bool {
	for range s.Scan(text) {
		return true
	}
	return false
}

func (s *Scanner) matchAt(text string, start int) (Match, bool) {
	rest := text[start:]
	for _, rule := range s.rules {
		loc := rule.Pattern.FindStringSubmatchIndex(rest)
		if loc == nil || loc[2] < 0 {
			continue
		}
		end := loc[1]
		if usd := s.usd.Pattern.FindStringIndex(rest[end:]); usd != nil {
			end += usd[1]
		}
		return Match{
			Start: start,
			End:   start + end,
			Raw:   rest[:end],
			Token: rest[loc[2]:loc[3]],
			Rule:  rule.Name,
		}, true
	}
	return Match{}, false
}
