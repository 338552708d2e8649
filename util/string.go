package util

import "unicode/utf8"

// MaxErrorLength bounds persisted error texts
const MaxErrorLength = 200

// Truncate cuts s to at most max runes
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
