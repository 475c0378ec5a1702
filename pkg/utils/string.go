package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString drops control characters and surrounding whitespace. Used
// for values echoed back from request headers.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// TruncateString cuts s to at most maxBytes without splitting a rune. When
// it cuts, the last rune kept is replaced by an ellipsis if there is room.
func TruncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	if maxBytes <= 0 {
		return ""
	}
	const ellipsis = "…"
	limit := maxBytes
	if maxBytes > len(ellipsis) {
		limit -= len(ellipsis)
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	if maxBytes > len(ellipsis) {
		return s[:limit] + ellipsis
	}
	return s[:limit]
}

// MaskSensitive keeps the first visible runes of a secret and stars the rest.
func MaskSensitive(s string, visible int) string {
	runes := []rune(s)
	if len(runes) <= visible {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:visible]) + strings.Repeat("*", len(runes)-visible)
}
