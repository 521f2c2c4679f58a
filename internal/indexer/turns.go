// Package indexer turns a vault of chat transcripts into embedded, searchable passages.
package indexer

import (
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

const sectionSeparator = "\n\n"

// speakerLabels maps lower-case turn labels to speakers. A label is only
// recognized at the very start of a section and must be followed by a colon.
var speakerLabels = []struct {
	prefix  string
	speaker models.Speaker
}{
	{"human:", models.SpeakerHuman},
	{"user:", models.SpeakerHuman},
	{"claude:", models.SpeakerAssistant},
	{"assistant:", models.SpeakerAssistant},
}

// ParseTurns splits a transcript into speaker-attributed turns.
//
// Sections are separated by a blank line. Each section is trimmed; sections
// starting with "#" are headers and dropped. A leading "Human:", "User:",
// "Claude:" or "Assistant:" label (any case) sets the speaker and is removed
// together with the whitespace after it. Other sections are kept verbatim as
// unknown. Sections that end up empty are dropped, and TurnIndex numbers the
// remaining turns from 0. Input order is preserved.
func ParseTurns(raw string) []models.Turn {
	sections := strings.Split(Normalize(raw), sectionSeparator)
	turns := make([]models.Turn, 0, len(sections))
	for _, section := range sections {
		section = strings.TrimSpace(section)
		if section == "" || strings.HasPrefix(section, "#") {
			continue
		}
		speaker, text := detectSpeaker(section)
		if text == "" {
			continue
		}
		turns = append(turns, models.Turn{
			Speaker:   speaker,
			Text:      text,
			TurnIndex: len(turns),
		})
	}
	return turns
}

func detectSpeaker(section string) (models.Speaker, string) {
	for _, label := range speakerLabels {
		n := len(label.prefix)
		if len(section) >= n && strings.EqualFold(section[:n], label.prefix) {
			return label.speaker, strings.TrimSpace(section[n:])
		}
	}
	return models.SpeakerUnknown, section
}
