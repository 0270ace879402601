package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/listenupapp/listenup-captions/internal/domain"
	"github.com/listenupapp/listenup-captions/internal/sse"
	"github.com/listenupapp/listenup-captions/internal/store"
)

const bookColumns = `id, title, author, path, duration, source_hash, created_at, updated_at`

func scanBook(scanner interface{ Scan(dest ...any) error }) (*domain.Book, error) {
	var (
		b                    domain.Book
		createdAt, updatedAt string
	)
	if err := scanner.Scan(&b.ID, &b.Title, &b.Author, &b.Path, &b.Duration, &b.SourceHash, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBook inserts a book and its chapters in one transaction.
// Returns store.ErrAlreadyExists on duplicate ID or path.
func (s *Store) CreateBook(ctx context.Context, book *domain.Book) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit.

	_, err = tx.ExecContext(ctx, `
		INSERT INTO books (`+bookColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID, book.Title, book.Author, book.Path, book.Duration, book.SourceHash,
		formatTime(book.CreatedAt), formatTime(book.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}

	for _, ch := range book.Chapters {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chapters (book_id, idx, title, start_time, end_time) VALUES (?, ?, ?, ?, ?)`,
			book.ID, ch.Index, ch.Title, ch.StartTime, ch.EndTime,
		); err != nil {
			return fmt.Errorf("insert chapter %d: %w", ch.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.emitter.Emit(sse.NewBookRegisteredEvent(book))
	return nil
}

// GetBook retrieves a book with its chapters.
// Returns store.ErrNotFound if the book does not exist.
func (s *Store) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	return s.loadBook(ctx, row)
}

// GetBookByPath retrieves a book by its audio file path.
// Returns store.ErrNotFound if no book has that path.
func (s *Store) GetBookByPath(ctx context.Context, path string) (*domain.Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE path = ?`, path)
	return s.loadBook(ctx, row)
}

func (s *Store) loadBook(ctx context.Context, row *sql.Row) (*domain.Book, error) {
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	book.Chapters, err = s.listChapters(ctx, book.ID)
	if err != nil {
		return nil, err
	}
	return book, nil
}

func (s *Store) listChapters(ctx context.Context, bookID string) ([]domain.Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, title, start_time, end_time FROM chapters
		WHERE book_id = ? ORDER BY idx ASC`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []domain.Chapter
	for rows.Next() {
		var ch domain.Chapter
		if err := rows.Scan(&ch.Index, &ch.Title, &ch.StartTime, &ch.EndTime); err != nil {
			return nil, err
		}
		chapters = append(chapters, ch)
	}
	return chapters, rows.Err()
}

// ListBooks returns every book ordered by title. Chapters are not loaded.
func (s *Store) ListBooks(ctx context.Context) ([]*domain.Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY title COLLATE NOCASE ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []*domain.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// DeleteBook removes a book; chapters and jobs cascade.
// Returns store.ErrNotFound if the book does not exist.
func (s *Store) DeleteBook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}

	s.emitter.Emit(sse.NewBookDeletedEvent(id))
	return nil
}
