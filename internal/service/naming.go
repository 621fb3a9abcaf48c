package service

import (
	"strings"
	"unicode"
)

// SlugFromDescription derives a short snake_case identifier from the first
// words of a free-text description.
func SlugFromDescription(description string) string {
	words := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) > 4 {
		words = words[:4]
	}
	return strings.Join(words, "_")
}
