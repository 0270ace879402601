// Package search provides full-text search over transcribed sentences using Bleve.
package search

import (
	"github.com/listenupapp/listenup-captions/internal/domain"
)

// SentenceDocument is one transcribed sentence in the index.
type SentenceDocument struct {
	ID        string  `json:"id"`      // Sentence ID
	BookID    string  `json:"book_id"` // Keyword; used for scoping and deletion
	ChunkID   string  `json:"chunk_id"`
	Language  string  `json:"language,omitempty"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// ToMap converts the document to a map whose keys match the index mapping.
func (d *SentenceDocument) ToMap() map[string]any {
	return map[string]any{
		"id":         d.ID,
		"book_id":    d.BookID,
		"chunk_id":   d.ChunkID,
		"language":   d.Language,
		"text":       d.Text,
		"start_time": d.StartTime,
		"end_time":   d.EndTime,
	}
}

// DocumentsFromChunk builds one document per sentence of a chunk.
func DocumentsFromChunk(chunk *domain.TranscriptionChunk) []*SentenceDocument {
	if chunk == nil {
		return nil
	}
	docs := make([]*SentenceDocument, 0, len(chunk.Sentences))
	for _, s := range chunk.Sentences {
		docs = append(docs, &SentenceDocument{
			ID:        s.ID,
			BookID:    chunk.BookID,
			ChunkID:   chunk.ID,
			Language:  chunk.Language,
			Text:      s.Text,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
		})
	}
	return docs
}
