package inflation

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Magnitude multipliers keyed by suffix, letters and words alike.
var magnitudes = map[string]float64{
	"k":        1e3,
	"m":        1e6,
	"b":        1e9,
	"t":        1e12,
	"thousand": 1e3,
	"million":  1e6,
	"billion":  1e9,
	"trillion": 1e12,
}

// wordSuffixes is ordered so that no entry is a suffix of a later one.
var wordSuffixes = []string{"thousand", "million", "billion", "trillion"}

var numberPattern = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)$`)

var usPrinter = message.NewPrinter(language.AmericanEnglish)

// ParseAmount converts a price token such as "$1,234.56", "2.5M" or
// "46 billion" to a number. Unparseable input yields NaN.
func ParseAmount(token string) float64 {
	s := strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', ' ', '\t', '\n', '\r', '\u00a0':
			return -1
		}
		return r
	}, token)
	s = strings.ToLower(s)
	s = strings.TrimSuffix(s, "usd")

	multiplier := 1.0
	for _, word := range wordSuffixes {
		if strings.HasSuffix(s, word) {
			multiplier = magnitudes[word]
			s = strings.TrimSuffix(s, word)
			break
		}
	}
	if multiplier == 1 && s != "" {
		if m, ok := magnitudes[s[len(s)-1:]]; ok {
			multiplier = m
			s = s[:len(s)-1]
		}
	}

	if !numberPattern.MatchString(s) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v * multiplier
}

// FormatAmount renders an amount for display. Large figures are shown
// abbreviated with a magnitude letter, thousands as a grouped integer and
// smaller amounts with cents.
func FormatAmount(amount float64) string {
	switch {
	case amount >= 1e12:
		return "$" + abbreviate(amount/1e12) + "T"
	case amount >= 1e9:
		return "$" + abbreviate(amount/1e9) + "B"
	case amount >= 1e6:
		return "$" + abbreviate(amount/1e6) + "M"
	case amount >= 1e3:
		return usPrinter.Sprintf("$%d", int64(math.Round(amount)))
	default:
		return "$" + strconv.FormatFloat(amount, 'f', 2, 64)
	}
}

// abbreviate keeps at most two decimals and drops trailing zeros.
func abbreviate(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
