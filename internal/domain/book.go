package domain

import "time"

// Book is an audiobook registered for captioning.
type Book struct {
	ID         string    `json:"id"`
	Title      string    `json:"title" validate:"required"`
	Author     string    `json:"author,omitempty"`
	Path       string    `json:"path" validate:"required"`
	Duration   float64   `json:"duration" validate:"gt=0"` // seconds
	SourceHash string    `json:"source_hash"`               // blake3 of the audio file
	Chapters   []Chapter `json:"chapters,omitempty" validate:"dive"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Chapter is a chapter marker within a book. Times are seconds.
type Chapter struct {
	Index     int     `json:"index" validate:"gte=0"`
	Title     string  `json:"title"`
	StartTime float64 `json:"start_time" validate:"gte=0"`
	EndTime   float64 `json:"end_time" validate:"gtefield=StartTime"`
}

// Chapter returns the chapter with the given index.
func (b *Book) Chapter(index int) (Chapter, bool) {
	for _, ch := range b.Chapters {
		if ch.Index == index {
			return ch, true
		}
	}
	return Chapter{}, false
}

// ChapterAt returns the chapter containing position, if any.
func (b *Book) ChapterAt(position float64) (Chapter, bool) {
	for _, ch := range b.Chapters {
		if ch.StartTime <= position && position < ch.EndTime {
			return ch, true
		}
	}
	return Chapter{}, false
}
