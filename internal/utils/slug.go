package utils

import (
	"strings"
	"unicode"
)

// NormalizeName lowercases s and collapses runs of whitespace into a
// single space.  Two registrations with the same normalized name belong
// to the same school.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Slugify turns a school name into the folder segment used in object
// store paths: lowercase ASCII letters and digits joined by single
// hyphens.  An empty result becomes "unnamed".
func Slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}
