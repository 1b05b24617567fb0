// Package textnorm normalizes free-text item descriptions so that benchmark
// bucketing and duplicate fingerprints agree on a canonical form.
package textnorm

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Marks stay: stripping them would mangle scripts like Devanagari where
// vowel signs are combining characters.
var nonAlnum = regexp.MustCompile(`[^\p{L}\p{M}\p{N}]+`)

// Normalize applies NFKC normalization, case folding, and collapses runs of
// punctuation and whitespace into single spaces. Returns "" for inputs with
// no letter or digit content. A fresh Caser per call: Casers are stateful
// and not safe for concurrent use.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeID uppercases an identifier (GSTIN, invoice number) and strips
// everything that is not a letter or digit.
func NormalizeID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
