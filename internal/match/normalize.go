// Package match computes similarity between business records. All functions are
// pure and deterministic: identical inputs always produce identical outputs.
package match

import (
	"strings"
	"unicode"
)

// streetSuffixes maps common street-suffix spellings to a canonical short form
// so that "123 Main Street" and "123 Main St" normalize identically.
var streetSuffixes = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"av":        "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"lane":      "ln",
	"road":      "rd",
	"court":     "ct",
	"place":     "pl",
	"suite":     "ste",
	"highway":   "hwy",
	"parkway":   "pkwy",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
}

// NormalizeName lowercases, strips punctuation, and collapses whitespace.
func NormalizeName(s string) string {
	return strings.Join(tokenize(s), " ")
}

// NormalizeAddress normalizes like NormalizeName and additionally canonicalizes
// street-suffix spellings.
func NormalizeAddress(s string) string {
	tokens := tokenize(s)
	for i, tok := range tokens {
		if short, ok := streetSuffixes[tok]; ok {
			tokens[i] = short
		}
	}
	return strings.Join(tokens, " ")
}

// NormalizePhone keeps digits only, dropping a leading US country code.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}

// NormalizeWebsite strips scheme, "www." prefix, and trailing slashes.
func NormalizeWebsite(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimRight(s, "/")
}

// tokenize lowercases the input and splits it on any non-alphanumeric rune.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
