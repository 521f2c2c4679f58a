package indexer

import (
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

func TestParseTurns(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []models.Turn
	}{
		{
			name: "human and claude",
			raw:  "Human: hi\n\nClaude: hello there",
			want: []models.Turn{
				{Speaker: models.SpeakerHuman, Text: "hi", TurnIndex: 0},
				{Speaker: models.SpeakerAssistant, Text: "hello there", TurnIndex: 1},
			},
		},
		{
			name: "user and assistant labels any case",
			raw:  "USER:   question?\n\nassistant:\tanswer",
			want: []models.Turn{
				{Speaker: models.SpeakerHuman, Text: "question?", TurnIndex: 0},
				{Speaker: models.SpeakerAssistant, Text: "answer", TurnIndex: 1},
			},
		},
		{
			name: "headers skipped and indices stay sequential",
			raw:  "# Conversation\n\nHuman: a\n\n## Part 2\n\nClaude: b",
			want: []models.Turn{
				{Speaker: models.SpeakerHuman, Text: "a", TurnIndex: 0},
				{Speaker: models.SpeakerAssistant, Text: "b", TurnIndex: 1},
			},
		},
		{
			name: "unlabeled section is unknown and verbatim",
			raw:  "Human: a\n\njust some notes\nover two lines",
			want: []models.Turn{
				{Speaker: models.SpeakerHuman, Text: "a", TurnIndex: 0},
				{Speaker: models.SpeakerUnknown, Text: "just some notes\nover two lines", TurnIndex: 1},
			},
		},
		{
			name: "empty label body dropped",
			raw:  "Human:   \n\nClaude: ok",
			want: []models.Turn{
				{Speaker: models.SpeakerAssistant, Text: "ok", TurnIndex: 0},
			},
		},
		{
			name: "label must lead the section",
			raw:  "I said Human: hi",
			want: []models.Turn{
				{Speaker: models.SpeakerUnknown, Text: "I said Human: hi", TurnIndex: 0},
			},
		},
		{
			name: "crlf and extra blank lines",
			raw:  "Human: one\r\n\r\n\r\nClaude: two\r\n",
			want: []models.Turn{
				{Speaker: models.SpeakerHuman, Text: "one", TurnIndex: 0},
				{Speaker: models.SpeakerAssistant, Text: "two", TurnIndex: 1},
			},
		},
		{
			name: "no merging of consecutive same-speaker turns",
			raw:  "Human: a\n\nHuman: b",
			want: []models.Turn{
				{Speaker: models.SpeakerHuman, Text: "a", TurnIndex: 0},
				{Speaker: models.SpeakerHuman, Text: "b", TurnIndex: 1},
			},
		},
		{
			name: "empty input",
			raw:  "",
			want: []models.Turn{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTurns(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseTurns() returned %d turns, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("turn %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseTurns_orderFollowsInput(t *testing.T) {
	turns := ParseTurns("Human: first\n\nClaude: second\n\nHuman: third")
	want := []string{"first", "second", "third"}
	for i, turn := range turns {
		if turn.Text != want[i] || turn.TurnIndex != i {
			t.Errorf("turn %d = %+v, want text %q", i, turn, want[i])
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("\ufeffa\r\nb\rc"); got != "a\nb\nc" {
		t.Errorf("Normalize = %q", got)
	}
	if got := Normalize("plain\ntext"); got != "plain\ntext" {
		t.Errorf("Normalize should leave LF text alone, got %q", got)
	}
}
