package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString strips control characters and trims whitespace. Display
// names pass through here before they are stored or logged.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// TruncateString truncates a string to maxLen runes. Cutting on rune
// boundaries keeps multi-byte names valid UTF-8.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
