// Package models defines core data structures for transcripts, passages, queries, and search results.
package models

import "strings"

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerHuman     Speaker = "human"
	SpeakerAssistant Speaker = "assistant"
	SpeakerUnknown   Speaker = "unknown"
)

// ParseSpeaker maps a stored speaker value back to a Speaker. Unrecognized values are unknown.
func ParseSpeaker(s string) Speaker {
	switch Speaker(strings.ToLower(s)) {
	case SpeakerHuman:
		return SpeakerHuman
	case SpeakerAssistant:
		return SpeakerAssistant
	default:
		return SpeakerUnknown
	}
}

// Turn is one speaker-attributed segment of a transcript.
// TurnIndex counts retained turns only, starting at 0.
type Turn struct {
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	TurnIndex int     `json:"turn_index"`
}

// PassageMetadata locates a passage within its source transcript.
type PassageMetadata struct {
	SourcePath string  `json:"source_path"`
	Filename   string  `json:"filename"`
	Speaker    Speaker `json:"speaker"`
	TurnIndex  int     `json:"turn_index"`
	ChunkIndex int     `json:"chunk_index"`
	ChunkCount int     `json:"chunk_count"`
}

// Passage is the unit of retrieval: a bounded piece of one turn.
type Passage struct {
	ID       string          `json:"id"`
	Text     string          `json:"text"`
	Metadata PassageMetadata `json:"metadata"`
}

// Warning records a non-fatal problem encountered while loading a vault.
type Warning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}
