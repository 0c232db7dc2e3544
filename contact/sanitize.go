package contact

import (
	"regexp"
	"strings"
	"unicode"
)

var spaceRuns = regexp.MustCompile(`\s{2,}`)

// CleanText strips control and format characters (Unicode category C) except newline
// and tab, collapses whitespace runs to a single space and trims the result.
// CleanText(CleanText(s)) == CleanText(s) for every s.
func CleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.Is(unicode.C, r) {
			return -1
		}
		return r
	}, s)
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// CleanEmail only trims; the address grammar is checked as typed.
func CleanEmail(s string) string {
	return strings.TrimSpace(s)
}
