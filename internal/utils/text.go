package utils

import "unicode/utf8"

// Truncate caps s at max bytes without splitting a multi-byte rune; the cut
// backs off to the previous rune boundary.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
