package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/listenup-captions/internal/domain"
	"github.com/listenupapp/listenup-captions/internal/search"
)

func (s *Server) registerTranscriptRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getTranscript",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}/transcript",
		Summary:     "Get transcript",
		Description: "Returns the transcribed sentences overlapping a time range",
		Tags:        []string{"Transcripts"},
	}, s.handleGetTranscript)

	huma.Register(s.api, huma.Operation{
		OperationID: "searchTranscript",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}/transcript/search",
		Summary:     "Search transcript",
		Description: "Full-text search over a book's transcribed sentences",
		Tags:        []string{"Transcripts"},
	}, s.handleSearchTranscript)

	huma.Register(s.api, huma.Operation{
		OperationID: "searchAllTranscripts",
		Method:      http.MethodGet,
		Path:        "/api/v1/search",
		Summary:     "Search all transcripts",
		Description: "Full-text search across every book",
		Tags:        []string{"Transcripts"},
	}, s.handleSearchAll)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteTranscript",
		Method:        http.MethodDelete,
		Path:          "/api/v1/books/{id}/transcript",
		Summary:       "Delete transcript",
		Description:   "Drops every transcribed chunk of a book so it can be transcribed again",
		Tags:          []string{"Transcripts"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteTranscript)
}

// === DTOs ===

// GetTranscriptInput selects a time range of a book's transcript.
type GetTranscriptInput struct {
	ID    string  `path:"id" doc:"Book ID"`
	Start float64 `query:"start" minimum:"0" doc:"Range start in seconds"`
	End   float64 `query:"end" minimum:"0" doc:"Range end in seconds (0 = end of book)"`
}

// SentenceResponse is one timed caption sentence.
type SentenceResponse struct {
	ID        string  `json:"id" doc:"Sentence ID"`
	Text      string  `json:"text" doc:"Sentence text"`
	StartTime float64 `json:"start_time" doc:"Start in seconds"`
	EndTime   float64 `json:"end_time" doc:"End in seconds"`
}

// TranscriptResponse contains sentences for a range.
type TranscriptResponse struct {
	BookID    string             `json:"book_id" doc:"Book ID"`
	Start     float64            `json:"start" doc:"Requested range start"`
	End       float64            `json:"end" doc:"Requested range end (0 = end of book)"`
	Sentences []SentenceResponse `json:"sentences" doc:"Sentences ordered by start time"`
}

// TranscriptOutput wraps the transcript response for Huma.
type TranscriptOutput struct {
	Body TranscriptResponse
}

// SearchTranscriptInput contains search parameters for one book.
type SearchTranscriptInput struct {
	ID string `path:"id" doc:"Book ID"`
	SearchQuery
}

// SearchAllInput contains search parameters across books.
type SearchAllInput struct {
	SearchQuery
}

// SearchQuery holds the shared search query parameters.
type SearchQuery struct {
	Q       string  `query:"q" required:"true" minLength:"1" doc:"Search text"`
	MinTime float64 `query:"min_time" minimum:"0" doc:"Only sentences starting at or after this second"`
	MaxTime float64 `query:"max_time" minimum:"0" doc:"Only sentences starting before this second (0 = unbounded)"`
	Sort    string  `query:"sort" enum:"relevance,time" default:"relevance" doc:"Result order"`
	Limit   int     `query:"limit" minimum:"1" maximum:"100" default:"20" doc:"Page size"`
	Offset  int     `query:"offset" minimum:"0" doc:"Page offset"`
}

func (q SearchQuery) params(bookID string) search.SearchParams {
	params := search.DefaultSearchParams()
	params.Query = q.Q
	params.BookID = bookID
	params.MinTime = q.MinTime
	params.MaxTime = q.MaxTime
	params.Offset = q.Offset
	if q.Sort != "" {
		params.SortBy = q.Sort
	}
	switch {
	case q.Limit <= 0:
		params.Limit = DefaultSearchLimit
	case q.Limit > MaxSearchLimit:
		params.Limit = MaxSearchLimit
	default:
		params.Limit = q.Limit
	}
	return params
}

// SearchOutput wraps search results for Huma.
type SearchOutput struct {
	Body *search.SearchResult
}

func toSentenceResponses(sentences []domain.TranscribedSentence) []SentenceResponse {
	out := make([]SentenceResponse, len(sentences))
	for i, st := range sentences {
		out[i] = SentenceResponse{
			ID:        st.ID,
			Text:      st.Text,
			StartTime: st.StartTime,
			EndTime:   st.EndTime,
		}
	}
	return out
}

// === Handlers ===

func (s *Server) handleGetTranscript(ctx context.Context, input *GetTranscriptInput) (*TranscriptOutput, error) {
	sentences, err := s.services.Transcript.Transcript(ctx, input.ID, input.Start, input.End)
	if err != nil {
		return nil, err
	}
	return &TranscriptOutput{Body: TranscriptResponse{
		BookID:    input.ID,
		Start:     input.Start,
		End:       input.End,
		Sentences: toSentenceResponses(sentences),
	}}, nil
}

func (s *Server) handleSearchTranscript(ctx context.Context, input *SearchTranscriptInput) (*SearchOutput, error) {
	result, err := s.services.Transcript.Search(ctx, input.params(input.ID))
	if err != nil {
		return nil, err
	}
	return &SearchOutput{Body: result}, nil
}

func (s *Server) handleSearchAll(ctx context.Context, input *SearchAllInput) (*SearchOutput, error) {
	result, err := s.services.Transcript.Search(ctx, input.params(""))
	if err != nil {
		return nil, err
	}
	return &SearchOutput{Body: result}, nil
}

func (s *Server) handleDeleteTranscript(ctx context.Context, input *BookIDInput) (*struct{}, error) {
	if err := s.services.Transcript.DeleteTranscript(ctx, input.ID); err != nil {
		return nil, err
	}
	return nil, nil
}
