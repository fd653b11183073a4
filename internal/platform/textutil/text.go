package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// AlphaNumeric drops every character outside [A-Za-z0-9].
func AlphaNumeric(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PlainText strips markup from user supplied text, drops control characters
// and truncates the result to limit runes.
func PlainText(value string, limit int) string {
	cleaned := html.UnescapeString(plainTextPolicy.Sanitize(value))
	cleaned = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)
	cleaned = strings.TrimSpace(cleaned)
	if limit > 0 {
		runes := []rune(cleaned)
		if len(runes) > limit {
			cleaned = strings.TrimSpace(string(runes[:limit]))
		}
	}
	return cleaned
}
