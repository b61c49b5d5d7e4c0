// Package slug derives filesystem-safe identifiers from free text.
package slug

import (
	"regexp"
	"strings"
)

// Fallback is returned when normalization leaves nothing.
const Fallback = "output"

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases text, collapses every run of characters outside
// [a-z0-9] into a single hyphen and trims leading/trailing hyphens.
func Slugify(text string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(text), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return Fallback
	}
	return s
}
