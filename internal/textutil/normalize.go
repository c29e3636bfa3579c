// Package textutil normalizes and tokenizes BoQ descriptions and layer names.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// newStripper builds a diacritic-removing transformer. Transformers carry
// state, so every call gets its own chain.
func newStripper() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// StripDiacritics removes combining marks ("tubería" -> "tuberia").
func StripDiacritics(s string) string {
	out, _, err := transform.String(newStripper(), s)
	if err != nil {
		return s
	}
	return out
}

// Normalize standardizes free text for matching by:
//  1. Lower-casing
//  2. Stripping diacritics
//  3. Replacing every non-alphanumeric rune with a space
//  4. Collapsing whitespace
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = StripDiacritics(strings.ToLower(s))

	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
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

var stopwords = map[string]bool{
	// es
	"de": true, "del": true, "la": true, "el": true, "los": true, "las": true,
	"y": true, "en": true, "con": true, "para": true, "por": true, "al": true,
	"un": true, "una": true, "segun": true, "tipo": true, "incluye": true,
	"o": true, "sin": true, "se": true, "su": true,
	// en
	"the": true, "of": true, "and": true, "for": true, "with": true,
	"in": true, "to": true, "an": true, "on": true, "or": true,
}

// Tokens returns the meaningful tokens of s: normalized, stopwords and pure
// numbers removed, duplicates dropped, original order kept.
func Tokens(s string) []string {
	fields := strings.Fields(Normalize(s))
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopwords[f] || isNumber(f) || seen[f] {
			continue
		}
		if len(f) < 2 {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// SameStem reports whether a and b are inflections of one another: equal,
// or the shorter (at least 4 bytes) prefixes the longer with at most two
// extra bytes ("muro"/"muros", "pared"/"paredes").
func SameStem(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	if len(a) < 4 || len(b)-len(a) > 2 {
		return false
	}
	return strings.HasPrefix(b, a)
}
