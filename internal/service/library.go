package service

import (
	"context"
	"log/slog"

	domainerrors "github.com/listenupapp/listenup-captions/internal/errors"
	"github.com/listenupapp/listenup-captions/internal/watcher"
)

// LibraryService keeps the catalog in step with a watched audiobook directory.
type LibraryService struct {
	books   *BookService
	watcher *watcher.Watcher
	root    string
	logger  *slog.Logger
}

// NewLibraryService creates a library service watching root.
func NewLibraryService(books *BookService, w *watcher.Watcher, root string, logger *slog.Logger) *LibraryService {
	return &LibraryService{
		books:   books,
		watcher: w,
		root:    root,
		logger:  logger,
	}
}

// Run registers the audiobooks already under root, then applies watcher
// events until ctx ends or the watcher stops.
func (s *LibraryService) Run(ctx context.Context) error {
	if err := s.watcher.Watch(s.root); err != nil {
		return err
	}

	known := s.watcher.Known()
	s.logger.Info("scanning library", slog.String("path", s.root), slog.Int("files", len(known)))
	for _, path := range known {
		if ctx.Err() != nil {
			return nil
		}
		s.register(ctx, path)
	}

	go func() {
		if err := s.watcher.Start(ctx); err != nil {
			s.logger.Error("library watcher stopped", slog.Any("error", err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.watcher.Errors():
			s.logger.Warn("library watcher error", slog.Any("error", err))
		case ev := <-s.watcher.Events():
			s.apply(ctx, ev)
		}
	}
}

// Stop releases the watcher.
func (s *LibraryService) Stop() error {
	return s.watcher.Stop()
}

func (s *LibraryService) apply(ctx context.Context, ev watcher.Event) {
	s.logger.Debug("library change", slog.String("type", ev.Type.String()), slog.String("path", ev.Path))

	switch ev.Type {
	case watcher.EventAdded, watcher.EventModified:
		s.register(ctx, ev.Path)
	case watcher.EventRemoved:
		book, err := s.books.GetBookByPath(ctx, ev.Path)
		if err != nil {
			if !domainerrors.Is(err, domainerrors.ErrNotFound) {
				s.logger.Warn("failed to look up removed file", slog.String("path", ev.Path), slog.Any("error", err))
			}
			return
		}
		if err := s.books.DeleteBook(ctx, book.ID); err != nil {
			s.logger.Warn("failed to remove book", slog.String("book_id", book.ID), slog.Any("error", err))
		}
	}
}

func (s *LibraryService) register(ctx context.Context, path string) {
	if _, err := s.books.RegisterBook(ctx, path); err != nil {
		s.logger.Warn("failed to register audiobook", slog.String("path", path), slog.Any("error", err))
	}
}
