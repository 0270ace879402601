package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Sort orders.
const (
	SortRelevance = "relevance"
	SortTime      = "time"
)

// SearchParams configures a transcript search.
type SearchParams struct {
	Query  string // User's search text
	BookID string // Restrict to one book (empty = all books)

	// Optional playback range filter, in seconds. Zero MaxTime means unbounded.
	MinTime float64
	MaxTime float64

	Limit  int
	Offset int

	SortBy    string // SortRelevance or SortTime
	Highlight bool
}

// DefaultSearchParams returns sensible defaults.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		Limit:     20,
		SortBy:    SortRelevance,
		Highlight: true,
	}
}

// SearchResult represents the search results.
type SearchResult struct {
	Query  string      `json:"query"`
	Total  uint64      `json:"total"`
	TookMs int64       `json:"took_ms"`
	Hits   []SearchHit `json:"hits"`
}

// SearchHit is one matching sentence.
type SearchHit struct {
	ID        string  `json:"id"`
	BookID    string  `json:"book_id"`
	ChunkID   string  `json:"chunk_id"`
	Score     float64 `json:"score"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Highlight string  `json:"highlight,omitempty"`
}

// Search executes a search query.
func (s *TranscriptIndex) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if params.Limit <= 0 {
		params.Limit = DefaultSearchParams().Limit
	}

	req := bleve.NewSearchRequestOptions(buildSearchQuery(params), params.Limit, params.Offset, false)
	if params.SortBy == SortTime {
		req.SortBy([]string{"start_time"})
	}
	if params.Highlight {
		req.Highlight = bleve.NewHighlight()
		req.Highlight.AddField("text")
	}
	req.Fields = []string{"book_id", "chunk_id", "text", "start_time", "end_time"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	result := &SearchResult{
		Query:  params.Query,
		Total:  res.Total,
		TookMs: res.Took.Milliseconds(),
		Hits:   make([]SearchHit, 0, len(res.Hits)),
	}

	for _, hit := range res.Hits {
		h := SearchHit{ID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["book_id"].(string); ok {
			h.BookID = v
		}
		if v, ok := hit.Fields["chunk_id"].(string); ok {
			h.ChunkID = v
		}
		if v, ok := hit.Fields["text"].(string); ok {
			h.Text = v
		}
		if v, ok := hit.Fields["start_time"].(float64); ok {
			h.StartTime = v
		}
		if v, ok := hit.Fields["end_time"].(float64); ok {
			h.EndTime = v
		}
		if fragments := hit.Fragments["text"]; len(fragments) > 0 {
			h.Highlight = fragments[0]
		}
		result.Hits = append(result.Hits, h)
	}

	return result, nil
}

// buildSearchQuery constructs the Bleve query from params.
func buildSearchQuery(params SearchParams) query.Query {
	var queries []query.Query

	if text := strings.TrimSpace(params.Query); text != "" {
		match := bleve.NewMatchQuery(text)
		match.SetField("text")
		match.SetBoost(2.0)

		phrase := bleve.NewMatchPhraseQuery(text)
		phrase.SetField("text")
		phrase.SetBoost(3.0)

		textQueries := []query.Query{match, phrase}

		// Typo tolerance only makes sense for single words.
		if !strings.ContainsAny(text, " \t") {
			fuzzy := bleve.NewFuzzyQuery(strings.ToLower(text))
			fuzzy.SetField("text")
			fuzzy.SetFuzziness(1)
			fuzzy.SetBoost(0.5)
			textQueries = append(textQueries, fuzzy)
		}

		queries = append(queries, bleve.NewDisjunctionQuery(textQueries...))
	}

	if params.BookID != "" {
		book := bleve.NewTermQuery(params.BookID)
		book.SetField("book_id")
		queries = append(queries, book)
	}

	if params.MinTime > 0 || params.MaxTime > 0 {
		lo := params.MinTime
		var hi *float64
		if params.MaxTime > 0 {
			hi = &params.MaxTime
		}
		r := bleve.NewNumericRangeQuery(&lo, hi)
		r.SetField("start_time")
		queries = append(queries, r)
	}

	switch len(queries) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return queries[0]
	default:
		return bleve.NewConjunctionQuery(queries...)
	}
}
