package search

import (
	"strings"
	"unicode"

	"github.com/hyperjump/kioku/pkg/utils"
)

// Highlight returns a one-line preview of text cut to maxRunes, with words that
// match a query term (case-insensitively) passed through mark.
func Highlight(text, query string, maxRunes int, mark func(string) string) string {
	preview := utils.Preview(text, maxRunes)
	if mark == nil {
		return preview
	}
	terms := make(map[string]bool)
	for _, t := range strings.FieldsFunc(strings.ToLower(query), notWordRune) {
		terms[t] = true
	}
	if len(terms) == 0 {
		return preview
	}

	var b strings.Builder
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) == 0 {
			return
		}
		w := string(word)
		if terms[strings.ToLower(w)] {
			b.WriteString(mark(w))
		} else {
			b.WriteString(w)
		}
		word = word[:0]
	}
	for _, r := range preview {
		if notWordRune(r) {
			flush()
			b.WriteRune(r)
			continue
		}
		word = append(word, r)
	}
	flush()
	return b.String()
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
