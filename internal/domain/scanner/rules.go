package scanner

import (
	"fmt"
	"regexp"
	"sync"
)

// Price token patterns. Each is anchored at a '$' and captures the numeric
// token (with any magnitude suffix) in group 1.
const (
	WordPattern    = `(?i)^\$(\d+(?:\.\d{1,2})?\s*(?:thousand|million|billion|trillion))\b`
	LetterPattern  = `(?i)^\$(\d+(?:\.\d{1,2})?[kmbt])\b`
	LargePattern   = `^\$(\d{4,}(?:\.\d{2})?)`
	GroupedPattern = `^\$(\d{1,3}(?:,\d{3})*(?:\.\d{2})?)`
	SuffixPattern  = `(?i)^(\s*usd)\b`
)

// Rule is one price notation tried at a '$' anchor.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

var regexCache sync.Map

// compile returns a cached compiled regex.
func compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	regexCache.Store(pattern, re)
	return re, nil
}

// NewRule compiles a rule. The pattern must be anchored with ^ at the '$'
// and expose the numeric token as its first capture group.
func NewRule(name, pattern string) (Rule, error) {
	re, err := compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("scanner: rule %s: %w", name, err)
	}
	if re.NumSubexp() < 1 {
		return Rule{}, fmt.Errorf("scanner: rule %s has no capture group", name)
	}
	return Rule{Name: name, Pattern: re}, nil
}

func mustRule(name, pattern string) Rule {
	r, err := NewRule(name, pattern)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRules returns the built-in notations in priority order: magnitude
// words, magnitude letters, plain large integers, comma-grouped amounts.
func DefaultRules() []Rule {
	return []Rule{
		mustRule("word", WordPattern),
		mustRule("letter", LetterPattern),
		mustRule("large", LargePattern),
		mustRule("grouped", GroupedPattern),
	}
}
