// Package strutil holds the small string normalizers shared by the codec,
// aggregator and stores.
package strutil

import "strings"

// NormalizeUpper trims surrounding whitespace and converts to upper case.
// Use for callsigns, bands, modes, grids and countries where case is not
// significant.
func NormalizeUpper(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// NormalizeLower trims surrounding whitespace and converts to lower case.
func NormalizeLower(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// ContainsFold reports whether sub appears in s ignoring case. An empty or
// blank sub matches everything.
func ContainsFold(s, sub string) bool {
	sub = NormalizeUpper(sub)
	if sub == "" {
		return true
	}
	return strings.Contains(strings.ToUpper(s), sub)
}
