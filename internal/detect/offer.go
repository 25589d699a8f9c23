// Package detect provides pure text heuristics for offers and agreement.
package detect

import (
	"regexp"
	"strconv"
	"strings"
)

// offerPattern matches currency-like tokens. A bare number never qualifies:
// it needs a leading currency symbol or a trailing magnitude word, so dates
// and counts in ordinary prose are not mistaken for offers.
var offerPattern = regexp.MustCompile(
	`(?i)([$€£])\s*(\d{1,3}(?:,\d{3})*(?:\.\d+)?|\d+(?:\.\d+)?)\s*(million|mil|thousand|grand|[mk])?\b` +
		`|(\d{1,3}(?:,\d{3})*(?:\.\d+)?|\d+(?:\.\d+)?)\s*(million|mil|thousand|grand|[mk])\b`)

var magnitudes = map[string]float64{
	"million":  1e6,
	"mil":      1e6,
	"m":        1e6,
	"thousand": 1e3,
	"grand":    1e3,
	"k":        1e3,
}

// ExtractOffer scans text for the first monetary offer and returns its value
// as a plain number. The second return is false when no qualifying token
// exists. Pure and deterministic.
func ExtractOffer(text string) (float64, bool) {
	m := offerPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}

	number, magnitude := m[2], m[3]
	if m[1] == "" {
		// No currency symbol: the magnitude-word alternative matched.
		number, magnitude = m[4], m[5]
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if magnitude != "" {
		value *= magnitudes[strings.ToLower(magnitude)]
	}
	return value, true
}
