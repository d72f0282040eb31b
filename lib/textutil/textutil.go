package textutil

import (
	"strings"
	"unicode"
)

// score values the portal renders in place of a number, kept verbatim
// by the parsers rather than coerced. an nbsp-only cell is not listed:
// the entity decodes to U+00A0, which trims to empty before any
// sentinel check happens.
var scoreSentinels = []string{
	"X - Exempt",
	"Exempt",
	"MSG",
	"L - Late Work",
	"Late",
}

func IsScoreSentinel(s string) bool {
	for _, sentinel := range scoreSentinels {
		if strings.EqualFold(s, sentinel) {
			return true
		}
	}
	return false
}

func ContainsDigit(s string) bool {
	for _, c := range s {
		if unicode.IsDigit(c) {
			return true
		}
	}
	return false
}

// trims and treats the portal's blank markers as absent
func CleanCell(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "&nbsp;" {
		return "", false
	}
	return s, true
}
