package parse

import (
	"strings"
	"unicode"
)

// CleanCallsign normalizes a callsign token as clusters emit it: embedded spaces,
// doubled separators, SSID suffixes and stray slashes or colons are removed.
func CleanCallsign(raw string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)

	s = strings.TrimRight(s, ":")
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "/")

	return strings.ToUpper(s)
}

// ValidCallsign reports whether s has at least one letter and one digit
func ValidCallsign(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		case unicode.IsLetter(r):
			letter = true
		}
	}
	return letter && digit
}
