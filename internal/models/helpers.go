package models

import (
	"regexp"
	"strings"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9\-]`)

// Slugify normalizes a title for use in file names.
// Spaces and underscores become hyphens; everything else outside [a-z0-9-] is dropped.
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(" ", "-", "_", "-").Replace(s)
	return nonSlugChars.ReplaceAllString(s, "")
}

// ClampWords trims s to at most n whitespace-separated words.
func ClampWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
