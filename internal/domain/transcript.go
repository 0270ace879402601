package domain

import (
	"fmt"
	"time"
)

// TranscribedSentence is one timed sentence of transcript text.
// Times are seconds from the start of the book. Immutable once created.
type TranscribedSentence struct {
	ID        string  `json:"id" validate:"required"`
	Text      string  `json:"text" validate:"required"`
	StartTime float64 `json:"start_time" validate:"gte=0"`
	EndTime   float64 `json:"end_time" validate:"gtefield=StartTime"`
}

// Contains reports whether position falls inside [StartTime, EndTime].
func (s TranscribedSentence) Contains(position float64) bool {
	return s.StartTime <= position && position <= s.EndTime
}

// Duration returns the sentence length in seconds.
func (s TranscribedSentence) Duration() float64 {
	return s.EndTime - s.StartTime
}

// TranscriptionChunk is one contiguous transcribed segment produced by a single
// transcription run. Chunks are appended to the store and never mutated.
type TranscriptionChunk struct {
	ID            string                `json:"id"`
	BookID        string                `json:"book_id" validate:"required"`
	StartTime     float64               `json:"start_time" validate:"gte=0"`
	EndTime       float64               `json:"end_time" validate:"gtfield=StartTime"`
	Language      string                `json:"language,omitempty"`
	Sentences     []TranscribedSentence `json:"sentences" validate:"dive"`
	TranscribedAt time.Time             `json:"transcribed_at"`
	IsComplete    bool                  `json:"is_complete"`
}

// CheckOrdering verifies sentences are sorted by start time and do not overlap.
func (c *TranscriptionChunk) CheckOrdering() error {
	for i := 1; i < len(c.Sentences); i++ {
		prev, cur := c.Sentences[i-1], c.Sentences[i]
		if cur.StartTime < prev.StartTime {
			return fmt.Errorf("sentence %d starts at %.3f before sentence %d at %.3f", i, cur.StartTime, i-1, prev.StartTime)
		}
		if cur.StartTime < prev.EndTime {
			return fmt.Errorf("sentence %d overlaps sentence %d (%.3f < %.3f)", i, i-1, cur.StartTime, prev.EndTime)
		}
	}
	return nil
}

// Covers reports whether the chunk's time range includes position.
func (c *TranscriptionChunk) Covers(position float64) bool {
	return c.StartTime <= position && position <= c.EndTime
}
