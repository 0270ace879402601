package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/listenupapp/listenup-captions/internal/domain"
	domainerrors "github.com/listenupapp/listenup-captions/internal/errors"
	"github.com/listenupapp/listenup-captions/internal/id"
	"github.com/listenupapp/listenup-captions/internal/search"
	"github.com/listenupapp/listenup-captions/internal/store"
	"github.com/listenupapp/listenup-captions/internal/store/sqlite"
	"github.com/listenupapp/listenup-captions/internal/validation"
)

// TranscriptService is the transcript store contract used by the rest of the
// service: chunk inserts, range reads, progress and chapter status. Stored
// sentences are mirrored into the search index.
type TranscriptService struct {
	store     *store.Store
	catalog   *sqlite.Store
	index     *search.TranscriptIndex
	validator *validation.Validator
	logger    *slog.Logger
}

// NewTranscriptService creates a transcript service. index may be nil.
func NewTranscriptService(
	store *store.Store,
	catalog *sqlite.Store,
	index *search.TranscriptIndex,
	validator *validation.Validator,
	logger *slog.Logger,
) *TranscriptService {
	return &TranscriptService{
		store:     store,
		catalog:   catalog,
		index:     index,
		validator: validator,
		logger:    logger,
	}
}

// InsertChunk validates and appends a chunk. A chunk without an ID gets one.
// Persistence failures are returned as store.ErrWriteFailed; indexing
// failures are logged and do not fail the insert.
func (s *TranscriptService) InsertChunk(ctx context.Context, chunk *domain.TranscriptionChunk) error {
	if chunk.ID == "" {
		chunkID, err := id.Generate(id.PrefixChunk)
		if err != nil {
			return fmt.Errorf("generate chunk id: %w", err)
		}
		chunk.ID = chunkID
	}
	if chunk.TranscribedAt.IsZero() {
		chunk.TranscribedAt = time.Now()
	}

	if err := s.validator.Validate(chunk); err != nil {
		return err
	}
	if err := chunk.CheckOrdering(); err != nil {
		return domainerrors.Validationf("chunk sentences: %v", err)
	}

	if err := s.store.InsertChunk(ctx, chunk); err != nil {
		return err
	}

	if s.index != nil {
		if err := s.index.IndexChunk(chunk); err != nil {
			s.logger.Warn("failed to index transcript chunk",
				slog.String("chunk_id", chunk.ID),
				slog.Any("error", err))
		}
	}
	return nil
}

// LoadSentences returns sentences overlapping [start, end], sorted by start.
func (s *TranscriptService) LoadSentences(ctx context.Context, bookID string, start, end float64) ([]domain.TranscribedSentence, error) {
	return s.store.LoadSentences(ctx, bookID, start, end)
}

// GetTranscriptionProgress returns the furthest time transcribed contiguously from zero.
func (s *TranscriptService) GetTranscriptionProgress(ctx context.Context, bookID string) (float64, error) {
	return s.store.GetTranscriptionProgress(ctx, bookID)
}

// IsChapterTranscribed reports whether stored chunks cover the whole chapter.
func (s *TranscriptService) IsChapterTranscribed(ctx context.Context, bookID string, chapterIndex int) (bool, error) {
	ch, err := s.chapter(ctx, bookID, chapterIndex)
	if err != nil {
		return false, err
	}
	return s.store.IsRangeCovered(ctx, bookID, ch.StartTime, ch.EndTime)
}

// IsChapterTranscribing reports whether a pending or running job overlaps the chapter.
func (s *TranscriptService) IsChapterTranscribing(ctx context.Context, bookID string, chapterIndex int) (bool, error) {
	ch, err := s.chapter(ctx, bookID, chapterIndex)
	if err != nil {
		return false, err
	}
	jobs, err := s.catalog.ListActiveJobsInRange(ctx, bookID, ch.StartTime, ch.EndTime)
	if err != nil {
		return false, fmt.Errorf("list active jobs: %w", err)
	}
	return len(jobs) > 0, nil
}

func (s *TranscriptService) chapter(ctx context.Context, bookID string, chapterIndex int) (domain.Chapter, error) {
	book, err := getBook(ctx, s.catalog, bookID)
	if err != nil {
		return domain.Chapter{}, err
	}
	ch, ok := book.Chapter(chapterIndex)
	if !ok {
		return domain.Chapter{}, domainerrors.NotFoundf("chapter %d not found", chapterIndex)
	}
	return ch, nil
}

// Transcript returns a book's sentences in [start, end]. end <= 0 means the
// end of the book.
func (s *TranscriptService) Transcript(ctx context.Context, bookID string, start, end float64) ([]domain.TranscribedSentence, error) {
	book, err := getBook(ctx, s.catalog, bookID)
	if err != nil {
		return nil, err
	}
	if end <= 0 {
		end = book.Duration
	}
	if start < 0 || end < start {
		return nil, domainerrors.Validationf("invalid range [%g, %g]", start, end)
	}
	return s.store.LoadSentences(ctx, bookID, start, end)
}

// Search runs a full-text query over stored sentences.
func (s *TranscriptService) Search(ctx context.Context, params search.SearchParams) (*search.SearchResult, error) {
	if s.index == nil {
		return nil, domainerrors.Unavailable("transcript search is not available")
	}
	if params.BookID != "" {
		if _, err := getBook(ctx, s.catalog, params.BookID); err != nil {
			return nil, err
		}
	}
	return s.index.Search(ctx, params)
}

// DeleteTranscript drops every chunk of a book and its search documents.
func (s *TranscriptService) DeleteTranscript(ctx context.Context, bookID string) error {
	if err := s.store.DeleteTranscript(ctx, bookID); err != nil {
		return err
	}
	if s.index != nil {
		n, err := s.index.DeleteBook(ctx, bookID)
		if err != nil {
			return fmt.Errorf("delete search documents: %w", err)
		}
		s.logger.Info("transcript deleted",
			slog.String("book_id", bookID),
			slog.Int("documents", n))
	}
	return nil
}

// Reindex rebuilds the search index from the stored chunks of every book.
func (s *TranscriptService) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	if err := s.index.Rebuild(); err != nil {
		return 0, fmt.Errorf("rebuild index: %w", err)
	}

	books, err := s.catalog.ListBooks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list books: %w", err)
	}

	var indexed int
	for _, book := range books {
		chunks, err := s.store.ListChunks(ctx, book.ID)
		if err != nil {
			return indexed, fmt.Errorf("list chunks for %s: %w", book.ID, err)
		}
		var docs []*search.SentenceDocument
		for _, c := range chunks {
			docs = append(docs, search.DocumentsFromChunk(c)...)
		}
		if err := s.index.IndexDocuments(docs); err != nil {
			return indexed, fmt.Errorf("index %s: %w", book.ID, err)
		}
		indexed += len(docs)
	}

	s.logger.Info("search index rebuilt",
		slog.Int("books", len(books)),
		slog.Int("sentences", indexed))
	return indexed, nil
}

// getBook maps the catalog's not-found to the domain error.
func getBook(ctx context.Context, catalog *sqlite.Store, bookID string) (*domain.Book, error) {
	book, err := catalog.GetBook(ctx, bookID)
	if domainerrors.Is(err, store.ErrNotFound) {
		return nil, domainerrors.NotFoundf("book %s not found", bookID)
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}
