package transcribe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-captions/internal/domain"
)

func texts(sentences []domain.TranscribedSentence) []string {
	out := make([]string, len(sentences))
	for i, s := range sentences {
		out[i] = s.Text
	}
	return out
}

func TestSplitSentences_ProportionalTiming(t *testing.T) {
	got := SplitSentences([]Segment{
		{Start: 0, End: 10, Text: " Hello there. General Kenobi!"},
	}, 100, 100, 110)

	require.Len(t, got, 2)
	assert.Equal(t, "Hello there.", got[0].Text)
	assert.Equal(t, "General Kenobi!", got[1].Text)

	assert.InDelta(t, 100.0, got[0].StartTime, 1e-9)
	assert.InDelta(t, 100+10*12.0/27.0, got[0].EndTime, 1e-9)
	assert.InDelta(t, got[0].EndTime, got[1].StartTime, 1e-9)
	assert.InDelta(t, 110.0, got[1].EndTime, 1e-9)

	assert.NotEmpty(t, got[0].ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestSplitSentences_SpansSegments(t *testing.T) {
	got := SplitSentences([]Segment{
		{Start: 0, End: 2, Text: "It was the best of times,"},
		{Start: 2, End: 5, Text: "it was the worst of times."},
		{Start: 5, End: 6, Text: "And then"},
	}, 0, 0, 300)

	assert.Equal(t, []string{
		"It was the best of times, it was the worst of times.",
		"And then",
	}, texts(got))
	assert.InDelta(t, 0.0, got[0].StartTime, 1e-9)
	assert.InDelta(t, 5.0, got[0].EndTime, 1e-9)
	assert.InDelta(t, 6.0, got[1].EndTime, 1e-9)
}

func TestSplitSentences_TextRules(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"abbreviation", "Mr. Smith went home. He slept.", []string{"Mr. Smith went home.", "He slept."}},
		{"initial", "J. R. Hartley wrote it. Fine.", []string{"J. R. Hartley wrote it.", "Fine."}},
		{"closing quote", `He said "stop." Then left.`, []string{`He said "stop."`, "Then left."}},
		{"ellipsis", "Wait... what? No!", []string{"Wait...", "what?", "No!"}},
		{"decimal number", "It cost 3.50 dollars. Cheap.", []string{"It cost 3.50 dollars.", "Cheap."}},
		{"collapses whitespace", "  So   much\tspace.  ", []string{"So much space."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences([]Segment{{Start: 0, End: 10, Text: tt.text}}, 0, 0, 10)
			assert.Equal(t, tt.want, texts(got))
		})
	}
}

func TestSplitSentences_NormalizesUnicode(t *testing.T) {
	got := SplitSentences([]Segment{{Start: 0, End: 1, Text: "Cafe\u0301."}}, 0, 0, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "Caf\u00e9.", got[0].Text)
}

func TestSplitSentences_ClampsToRange(t *testing.T) {
	got := SplitSentences([]Segment{
		{Start: 8, End: 14, Text: "Late words."},
		{Start: 12, End: 13, Text: "Past the end."},
	}, 0, 0, 10)

	require.Len(t, got, 1)
	assert.InDelta(t, 8.0, got[0].StartTime, 1e-9)
	assert.InDelta(t, 10.0, got[0].EndTime, 1e-9)
}

func TestSplitSentences_RemovesOverlap(t *testing.T) {
	got := SplitSentences([]Segment{
		{Start: 0, End: 5, Text: "A one."},
		{Start: 4, End: 8, Text: "B two."},
	}, 0, 0, 10)

	require.Len(t, got, 2)
	assert.InDelta(t, 5.0, got[1].StartTime, 1e-9)

	chunk := &domain.TranscriptionChunk{Sentences: got}
	assert.NoError(t, chunk.CheckOrdering())
}

func TestSplitSentences_SkipsEmptySegments(t *testing.T) {
	got := SplitSentences([]Segment{
		{Start: 0, End: 1, Text: "   "},
		{Start: 1, End: 2, Text: ""},
	}, 0, 0, 10)
	assert.Empty(t, got)
}
