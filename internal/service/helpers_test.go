package service

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-captions/internal/domain"
	"github.com/listenupapp/listenup-captions/internal/logger"
	"github.com/listenupapp/listenup-captions/internal/search"
	"github.com/listenupapp/listenup-captions/internal/sse"
	"github.com/listenupapp/listenup-captions/internal/store"
	"github.com/listenupapp/listenup-captions/internal/store/sqlite"
	"github.com/listenupapp/listenup-captions/internal/validation"
)

// recordingEmitter captures emitted SSE events.
type recordingEmitter struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recordingEmitter) Emit(event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := event.(sse.Event); ok {
		r.events = append(r.events, e)
	}
}

func (r *recordingEmitter) ofType(t sse.EventType) []sse.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sse.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	store       *store.Store
	catalog     *sqlite.Store
	index       *search.TranscriptIndex
	transcripts *TranscriptService
	events      *recordingEmitter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	events := &recordingEmitter{}

	st, err := store.New(filepath.Join(dir, "transcripts"), nil, events)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	catalog, err := sqlite.Open(filepath.Join(dir, "catalog.db"), logger.Discard())
	require.NoError(t, err)
	catalog.SetEmitter(events)
	t.Cleanup(func() { _ = catalog.Close() })

	index, err := search.NewTranscriptIndex(search.Options{DataPath: filepath.Join(dir, "search")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	return &testEnv{
		store:       st,
		catalog:     catalog,
		index:       index,
		transcripts: NewTranscriptService(st, catalog, index, validation.New(), logger.Discard()),
		events:      events,
	}
}

// addBook registers a one-hour, two-chapter book directly in the catalog.
func (e *testEnv) addBook(t *testing.T, id string) *domain.Book {
	t.Helper()
	now := time.Now()
	book := &domain.Book{
		ID:       id,
		Title:    "Moby Dick",
		Author:   "Herman Melville",
		Path:     "/audio/" + id + ".m4b",
		Duration: 3600,
		Chapters: []domain.Chapter{
			{Index: 0, Title: "Loomings", StartTime: 0, EndTime: 1800},
			{Index: 1, Title: "The Carpet-Bag", StartTime: 1800, EndTime: 3600},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, e.catalog.CreateBook(t.Context(), book))
	return book
}

// makeChunk builds a chunk with one sentence every step seconds across [start, end).
func makeChunk(bookID string, start, end, step float64) *domain.TranscriptionChunk {
	c := &domain.TranscriptionChunk{
		BookID:     bookID,
		StartTime:  start,
		EndTime:    end,
		Language:   "en",
		IsComplete: true,
	}
	for ts := start; ts < end; ts += step {
		c.Sentences = append(c.Sentences, domain.TranscribedSentence{
			ID:        fmt.Sprintf("%s-%.1f", bookID, ts),
			Text:      fmt.Sprintf("The whale surfaced at %.0f seconds.", ts),
			StartTime: ts,
			EndTime:   ts + step*0.8,
		})
	}
	return c
}
