package domain

import (
	"strings"
	"unicode"
)

// SanitizeText strips NUL bytes, control characters other than tab and line
// breaks, and U+FFFD replacement characters, then trims surrounding space.
func SanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(r)
		case r == unicode.ReplacementChar:
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
