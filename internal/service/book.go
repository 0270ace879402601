// Package service holds the business logic behind the captions API: the book
// catalog, transcript access, background transcription and playback sessions.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/listenupapp/listenup-captions/internal/domain"
	domainerrors "github.com/listenupapp/listenup-captions/internal/errors"
	"github.com/listenupapp/listenup-captions/internal/id"
	"github.com/listenupapp/listenup-captions/internal/library"
	"github.com/listenupapp/listenup-captions/internal/store"
	"github.com/listenupapp/listenup-captions/internal/store/sqlite"
	"github.com/listenupapp/listenup-captions/internal/validation"
)

// BookService manages the catalog of books that can be captioned.
type BookService struct {
	catalog     *sqlite.Store
	transcripts *TranscriptService
	prober      library.Prober
	validator   *validation.Validator
	logger      *slog.Logger
}

// NewBookService creates a new book service.
func NewBookService(
	catalog *sqlite.Store,
	transcripts *TranscriptService,
	prober library.Prober,
	validator *validation.Validator,
	logger *slog.Logger,
) *BookService {
	return &BookService{
		catalog:     catalog,
		transcripts: transcripts,
		prober:      prober,
		validator:   validator,
		logger:      logger,
	}
}

// RegisterBook reads an audio file's metadata and adds it to the catalog.
// Registering a path that is already known returns the existing book,
// unless the file's contents changed, in which case the stale transcript is
// dropped and the book is re-registered under the same ID.
func (s *BookService) RegisterBook(ctx context.Context, path string) (*domain.Book, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, domainerrors.Validationf("invalid path: %v", err)
	}
	if !library.IsAudiobook(path) {
		return nil, domainerrors.Validationf("unsupported file type: %s", filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, domainerrors.NotFoundf("audio file not found: %s", path)
	}
	if info.IsDir() {
		return nil, domainerrors.Validationf("not a file: %s", path)
	}

	hash, err := library.HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hash audio file: %w", err)
	}

	existing, err := s.catalog.GetBookByPath(ctx, path)
	switch {
	case err == nil && existing.SourceHash == hash:
		return existing, nil
	case err == nil:
		s.logger.Info("audio file changed, dropping transcript",
			slog.String("book_id", existing.ID),
			slog.String("path", path))
		if err := s.transcripts.DeleteTranscript(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("drop stale transcript: %w", err)
		}
		if err := s.catalog.DeleteBook(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("drop stale book: %w", err)
		}
	case !domainerrors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("lookup book: %w", err)
	}

	meta, err := s.prober.Probe(ctx, path)
	if err != nil {
		return nil, domainerrors.Validationf("read audio metadata: %v", err)
	}

	now := time.Now()
	book := &domain.Book{
		Title:      meta.Title,
		Author:     meta.Author,
		Path:       path,
		Duration:   meta.Duration,
		SourceHash: hash,
		Chapters:   meta.Chapters,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing != nil {
		book.ID = existing.ID
		book.CreatedAt = existing.CreatedAt
	} else if book.ID, err = id.Generate(id.PrefixBook); err != nil {
		return nil, fmt.Errorf("generate book id: %w", err)
	}

	if err := s.validator.Validate(book); err != nil {
		return nil, err
	}

	if err := s.catalog.CreateBook(ctx, book); err != nil {
		if domainerrors.Is(err, store.ErrAlreadyExists) {
			return nil, domainerrors.Conflict("book already registered")
		}
		return nil, fmt.Errorf("create book: %w", err)
	}

	s.logger.Info("book registered",
		slog.String("book_id", book.ID),
		slog.String("title", book.Title),
		slog.Float64("duration", book.Duration),
		slog.Int("chapters", len(book.Chapters)),
	)
	return book, nil
}

// GetBook returns a book with its chapters.
func (s *BookService) GetBook(ctx context.Context, bookID string) (*domain.Book, error) {
	return getBook(ctx, s.catalog, bookID)
}

// GetBookByPath returns the book registered for an audio file.
func (s *BookService) GetBookByPath(ctx context.Context, path string) (*domain.Book, error) {
	book, err := s.catalog.GetBookByPath(ctx, path)
	if domainerrors.Is(err, store.ErrNotFound) {
		return nil, domainerrors.NotFoundf("no book for %s", path)
	}
	return book, err
}

// ListBooks returns every book ordered by title, without chapters.
func (s *BookService) ListBooks(ctx context.Context) ([]*domain.Book, error) {
	books, err := s.catalog.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	if books == nil {
		books = []*domain.Book{}
	}
	return books, nil
}

// DeleteBook removes a book, its transcript, search documents and jobs.
func (s *BookService) DeleteBook(ctx context.Context, bookID string) error {
	if _, err := getBook(ctx, s.catalog, bookID); err != nil {
		return err
	}
	if err := s.transcripts.DeleteTranscript(ctx, bookID); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	if err := s.catalog.DeleteBook(ctx, bookID); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}

	s.logger.Info("book deleted", slog.String("book_id", bookID))
	return nil
}
