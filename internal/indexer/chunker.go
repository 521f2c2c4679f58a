package indexer

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kioku/internal/config"
)

// separators are tried in order; the empty separator splits into single runes
// and always terminates.
var separators = []string{"\n\n", "\n", " ", ""}

// Chunker splits turn text into bounded, overlapping chunks. Sizes are in runes.
// A Chunker holds no state between calls and is safe for concurrent use.
type Chunker struct {
	maxSize int
	overlap int
}

// NewChunker creates a chunker. It fails with config.ErrMalformedChunkConfig
// unless 0 <= overlap < maxSize.
func NewChunker(maxSize, overlap int) (*Chunker, error) {
	if err := config.ValidateChunking(maxSize, overlap); err != nil {
		return nil, err
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// MaxSize returns the chunk size bound.
func (c *Chunker) MaxSize() int { return c.maxSize }

// Overlap returns the number of runes carried between consecutive chunks.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the chunks of text in order. Every chunk is whitespace-trimmed,
// non-empty, and at most MaxSize runes. Text that already fits is returned as a
// single chunk.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= c.maxSize {
		return []string{text}
	}
	return c.split(text, separators)
}

func (c *Chunker) split(text string, seps []string) []string {
	sep, rest := pickSeparator(text, seps)
	var chunks, fitting []string
	for _, piece := range splitKeep(text, sep) {
		if utf8.RuneCountInString(piece) <= c.maxSize {
			fitting = append(fitting, piece)
			continue
		}
		if len(fitting) > 0 {
			chunks = append(chunks, c.merge(fitting)...)
			fitting = nil
		}
		chunks = append(chunks, c.split(piece, rest)...)
	}
	if len(fitting) > 0 {
		chunks = append(chunks, c.merge(fitting)...)
	}
	return chunks
}

// merge packs pieces greedily into chunks of at most maxSize runes. When a chunk
// is emitted, the trailing pieces totalling at most overlap runes seed the next one.
func (c *Chunker) merge(pieces []string) []string {
	var chunks []string
	var window []string
	total := 0
	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > c.maxSize && len(window) > 0 {
			chunks = appendChunk(chunks, window)
			for len(window) > 0 && (total > c.overlap || total+n > c.maxSize) {
				total -= utf8.RuneCountInString(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += n
	}
	if len(window) > 0 {
		chunks = appendChunk(chunks, window)
	}
	return chunks
}

func appendChunk(chunks, window []string) []string {
	chunk := strings.TrimSpace(strings.Join(window, ""))
	if chunk == "" {
		return chunks
	}
	return append(chunks, chunk)
}

// pickSeparator returns the first separator present in text and the separators after it.
func pickSeparator(text string, seps []string) (string, []string) {
	for i, sep := range seps {
		if sep == "" || strings.Contains(text, sep) {
			return sep, seps[i+1:]
		}
	}
	return "", nil
}

// splitKeep splits text after each occurrence of sep, keeping sep on the
// preceding piece so that the pieces concatenate back to text.
func splitKeep(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	pieces := strings.SplitAfter(text, sep)
	if n := len(pieces); n > 0 && pieces[n-1] == "" {
		pieces = pieces[:n-1]
	}
	return pieces
}
