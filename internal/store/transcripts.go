package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/listenup-captions/internal/domain"
	"github.com/listenupapp/listenup-captions/internal/sse"
)

// coverageSlack is the largest hole between two chunks that still counts as contiguous.
const coverageSlack = 0.5

// InsertChunk appends a transcript chunk. Chunks are never updated in place.
// Write failures are reported as ErrWriteFailed.
func (s *Store) InsertChunk(ctx context.Context, chunk *domain.TranscriptionChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if chunk.ID == "" || chunk.BookID == "" {
		return ErrInvalidInput.WithMessage("chunk requires id and book id")
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return ErrWriteFailed.WithCause(fmt.Errorf("marshal chunk: %w", err))
	}

	key := chunkKey(chunk.BookID, chunk.StartTime, chunk.ID)
	defer releaseKey(key)

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check existing: %w", err)
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, ErrAlreadyExists) {
		return err
	}
	if err != nil {
		return ErrWriteFailed.WithCause(err)
	}

	if s.logger != nil {
		s.logger.Debug("transcript chunk stored",
			"book_id", chunk.BookID,
			"chunk_id", chunk.ID,
			"start", chunk.StartTime,
			"end", chunk.EndTime,
			"sentences", len(chunk.Sentences))
	}
	s.eventEmitter.Emit(sse.NewChunkStoredEvent(chunk))
	return nil
}

// ListChunks returns every chunk of a book ordered by start time.
func (s *Store) ListChunks(ctx context.Context, bookID string) ([]*domain.TranscriptionChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := bookChunkPrefix(bookID)
	defer releaseKey(prefix)

	var chunks []*domain.TranscriptionChunk
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, prefix, func(c *domain.TranscriptionChunk) bool {
			chunks = append(chunks, c)
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return chunks, nil
}

// LoadSentences returns the sentences of a book overlapping [start, end],
// inclusive at both ends, sorted by start time. Sentences from overlapping
// chunks are all returned; readers resolve overlaps by start order.
func (s *Store) LoadSentences(ctx context.Context, bookID string, start, end float64) ([]domain.TranscribedSentence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if end < start {
		return nil, nil
	}

	prefix := bookChunkPrefix(bookID)
	defer releaseKey(prefix)

	var sentences []domain.TranscribedSentence
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, prefix, func(c *domain.TranscriptionChunk) bool {
			if c.StartTime > end {
				return false
			}
			if c.EndTime < start {
				return true
			}
			for _, sen := range c.Sentences {
				if sen.EndTime >= start && sen.StartTime <= end {
					sentences = append(sentences, sen)
				}
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load sentences: %w", err)
	}

	slices.SortStableFunc(sentences, func(a, b domain.TranscribedSentence) int {
		return cmp.Compare(a.StartTime, b.StartTime)
	})
	return sentences, nil
}

// GetTranscriptionProgress returns the furthest time transcribed contiguously from zero.
func (s *Store) GetTranscriptionProgress(ctx context.Context, bookID string) (float64, error) {
	chunks, err := s.ListChunks(ctx, bookID)
	if err != nil {
		return 0, err
	}
	return contiguousEnd(chunks, 0), nil
}

// IsRangeCovered reports whether stored chunks cover [start, end] without gaps.
func (s *Store) IsRangeCovered(ctx context.Context, bookID string, start, end float64) (bool, error) {
	chunks, err := s.ListChunks(ctx, bookID)
	if err != nil {
		return false, err
	}
	return contiguousEnd(chunks, start) >= end-coverageSlack, nil
}

// contiguousEnd walks start-ordered chunks and returns how far coverage
// extends from origin before the first gap.
func contiguousEnd(chunks []*domain.TranscriptionChunk, origin float64) float64 {
	covered := origin
	for _, c := range chunks {
		if c.EndTime <= covered {
			continue
		}
		if c.StartTime > covered+coverageSlack {
			break
		}
		covered = c.EndTime
	}
	return covered
}

// DeleteTranscript removes every chunk of a book.
func (s *Store) DeleteTranscript(ctx context.Context, bookID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prefix := bookChunkPrefix(bookID)
	// DropPrefix retains the slice only for the duration of the call.
	err := s.db.DropPrefix(prefix)
	releaseKey(prefix)
	if err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}

	s.eventEmitter.Emit(sse.NewTranscriptDeletedEvent(bookID))
	return nil
}
