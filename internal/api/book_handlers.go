package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/listenup-captions/internal/domain"
)

func (s *Server) registerBookRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "registerBook",
		Method:        http.MethodPost,
		Path:          "/api/v1/books",
		Summary:       "Register book",
		Description:   "Reads an audiobook file's metadata and adds it to the catalog",
		Tags:          []string{"Books"},
		DefaultStatus: http.StatusCreated,
	}, s.handleRegisterBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "listBooks",
		Method:      http.MethodGet,
		Path:        "/api/v1/books",
		Summary:     "List books",
		Description: "Returns every registered book",
		Tags:        []string{"Books"},
	}, s.handleListBooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "getBook",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}",
		Summary:     "Get book",
		Description: "Returns a book with its chapters",
		Tags:        []string{"Books"},
	}, s.handleGetBook)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteBook",
		Method:        http.MethodDelete,
		Path:          "/api/v1/books/{id}",
		Summary:       "Delete book",
		Description:   "Removes a book along with its transcript and search entries",
		Tags:          []string{"Books"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteBook)
}

// === DTOs ===

// RegisterBookRequest is the request body for registering a book.
type RegisterBookRequest struct {
	Path string `json:"path" minLength:"1" doc:"Absolute path to an .m4b, .m4a or .mp3 file on the server"`
}

// RegisterBookInput wraps the register book request for Huma.
type RegisterBookInput struct {
	Body RegisterBookRequest
}

// ChapterResponse describes one chapter.
type ChapterResponse struct {
	Index     int     `json:"index" doc:"Zero-based chapter index"`
	Title     string  `json:"title" doc:"Chapter title"`
	StartTime float64 `json:"start_time" doc:"Chapter start in seconds"`
	EndTime   float64 `json:"end_time" doc:"Chapter end in seconds"`
}

// BookResponse contains book data in API responses.
type BookResponse struct {
	ID         string            `json:"id" doc:"Book ID"`
	Title      string            `json:"title" doc:"Book title"`
	Author     string            `json:"author,omitempty" doc:"Book author"`
	Path       string            `json:"path" doc:"Audio file path"`
	Duration   float64           `json:"duration" doc:"Duration in seconds"`
	SourceHash string            `json:"source_hash" doc:"BLAKE3 hash of the audio file"`
	Chapters   []ChapterResponse `json:"chapters" doc:"Chapters in playback order"`
	CreatedAt  time.Time         `json:"created_at" doc:"Registration time"`
	UpdatedAt  time.Time         `json:"updated_at" doc:"Last update time"`
}

// BookOutput wraps a book response for Huma.
type BookOutput struct {
	Body BookResponse
}

// ListBooksResponse contains a list of books.
type ListBooksResponse struct {
	Books []BookResponse `json:"books" doc:"Registered books"`
}

// ListBooksOutput wraps the list books response for Huma.
type ListBooksOutput struct {
	Body ListBooksResponse
}

// BookIDInput identifies a book by path parameter.
type BookIDInput struct {
	ID string `path:"id" doc:"Book ID"`
}

func toBookResponse(b *domain.Book) BookResponse {
	chapters := make([]ChapterResponse, len(b.Chapters))
	for i, ch := range b.Chapters {
		chapters[i] = ChapterResponse{
			Index:     ch.Index,
			Title:     ch.Title,
			StartTime: ch.StartTime,
			EndTime:   ch.EndTime,
		}
	}
	return BookResponse{
		ID:         b.ID,
		Title:      b.Title,
		Author:     b.Author,
		Path:       b.Path,
		Duration:   b.Duration,
		SourceHash: b.SourceHash,
		Chapters:   chapters,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

// === Handlers ===

func (s *Server) handleRegisterBook(ctx context.Context, input *RegisterBookInput) (*BookOutput, error) {
	book, err := s.services.Book.RegisterBook(ctx, input.Body.Path)
	if err != nil {
		return nil, err
	}
	return &BookOutput{Body: toBookResponse(book)}, nil
}

func (s *Server) handleListBooks(ctx context.Context, _ *struct{}) (*ListBooksOutput, error) {
	books, err := s.services.Book.ListBooks(ctx)
	if err != nil {
		return nil, err
	}

	resp := make([]BookResponse, len(books))
	for i, b := range books {
		resp[i] = toBookResponse(b)
	}
	return &ListBooksOutput{Body: ListBooksResponse{Books: resp}}, nil
}

func (s *Server) handleGetBook(ctx context.Context, input *BookIDInput) (*BookOutput, error) {
	book, err := s.services.Book.GetBook(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &BookOutput{Body: toBookResponse(book)}, nil
}

func (s *Server) handleDeleteBook(ctx context.Context, input *BookIDInput) (*struct{}, error) {
	if err := s.services.Book.DeleteBook(ctx, input.ID); err != nil {
		return nil, err
	}
	return nil, nil
}
