// Package utils provides shared helpers for text previews, vector math, and logging.
package utils

import "strings"

// Preview returns at most maxRunes runes of s with "..." appended when cut.
// Newlines are flattened to spaces so that a preview fits on one line.
// A non-positive maxRunes returns s unchanged.
func Preview(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	if maxRunes <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
