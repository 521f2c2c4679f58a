package search

import (
	"testing"
)

func TestHighlight(t *testing.T) {
	bracket := func(s string) string { return "[" + s + "]" }
	tests := []struct {
		name  string
		text  string
		query string
		max   int
		mark  func(string) string
		want  string
	}{
		{"no mark", "long text here", "text", 4, nil, "long..."},
		{"marks terms", "Python decorators, explained.", "python DECORATORS", 0, bracket, "[Python] [decorators], explained."},
		{"partial words untouched", "decorated decorator", "decorator", 0, bracket, "decorated [decorator]"},
		{"flattens newlines", "a\n\nb", "b", 0, bracket, "a [b]"},
		{"empty query", "abc", "  ", 0, bracket, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Highlight(tt.text, tt.query, tt.max, tt.mark); got != tt.want {
				t.Errorf("Highlight = %q, want %q", got, tt.want)
			}
		})
	}
}
