package detect

import "strings"

// closingPhrases is the fixed set of deal-closing expressions. Matching is
// case-insensitive substring search over the union of both turn texts.
var closingPhrases = []string{
	"we have a deal",
	"it's a deal",
	"deal accepted",
	"i accept",
	"we accept",
	"i agree",
	"we are agreed",
	"let's proceed",
	"let's move forward",
	"you have a deal",
	"shake on it",
	"consider it done",
}

// DetectsAgreement reports whether either turn of an exchange contains
// deal-closing language. The engine, not this predicate, enforces that an
// agreement is only meaningful once a first offer exists.
func DetectsAgreement(userText, counterpartText string) bool {
	combined := strings.ToLower(userText + "\n" + counterpartText)
	for _, phrase := range closingPhrases {
		if strings.Contains(combined, phrase) {
			return true
		}
	}
	return false
}
