package core

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Fold lower-cases s for case-insensitive comparisons. A Caser is not safe
// for concurrent use, so one is built per call.
func Fold(s string) string {
	if s == "" {
		return s
	}
	return cases.Lower(language.Und).String(s)
}
