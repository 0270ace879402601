package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-captions/internal/auth"
	"github.com/listenupapp/listenup-captions/internal/config"
	"github.com/listenupapp/listenup-captions/internal/domain"
	"github.com/listenupapp/listenup-captions/internal/library"
	"github.com/listenupapp/listenup-captions/internal/logger"
	"github.com/listenupapp/listenup-captions/internal/search"
	"github.com/listenupapp/listenup-captions/internal/service"
	"github.com/listenupapp/listenup-captions/internal/sse"
	"github.com/listenupapp/listenup-captions/internal/store"
	"github.com/listenupapp/listenup-captions/internal/store/sqlite"
	"github.com/listenupapp/listenup-captions/internal/transcribe"
	"github.com/listenupapp/listenup-captions/internal/validation"
)

const testKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// stubProber reports a one-hour, two-chapter book for any file.
type stubProber struct{}

func (stubProber) Probe(_ context.Context, path string) (*library.Info, error) {
	return &library.Info{
		Title:    filepath.Base(path),
		Author:   "Herman Melville",
		Format:   "M4B",
		Duration: 3600,
		Chapters: []domain.Chapter{
			{Index: 0, Title: "Loomings", StartTime: 0, EndTime: 1800},
			{Index: 1, Title: "The Carpet-Bag", StartTime: 1800, EndTime: 3600},
		},
	}, nil
}

// stubRunner never gets called because tests do not start the worker pool.
type stubRunner struct{}

func (stubRunner) Run(context.Context, transcribe.Request, func(int)) ([]domain.TranscribedSentence, error) {
	return nil, nil
}

type testServer struct {
	*Server
	api         humatest.TestAPI
	dir         string
	catalog     *sqlite.Store
	transcripts *service.TranscriptService
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	log := logger.Discard()
	sseManager := sse.NewManager(log)

	st, err := store.New(filepath.Join(dir, "transcripts"), log, sseManager)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	catalog, err := sqlite.Open(filepath.Join(dir, "catalog.db"), log)
	require.NoError(t, err)
	catalog.SetEmitter(sseManager)
	t.Cleanup(func() { _ = catalog.Close() })

	index, err := search.NewTranscriptIndex(search.Options{DataPath: filepath.Join(dir, "search")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	tokens, err := auth.NewTokenService(testKeyHex, time.Hour)
	require.NoError(t, err)

	v := validation.New()
	transcripts := service.NewTranscriptService(st, catalog, index, v, log)
	books := service.NewBookService(catalog, transcripts, stubProber{}, v, log)
	transcription := service.NewTranscriptionService(catalog, transcripts, stubRunner{}, sseManager, config.TranscriptionConfig{
		Enabled:       true,
		Language:      "en",
		MaxConcurrent: 1,
		SegmentLength: 5 * time.Minute,
	}, log)
	t.Cleanup(transcription.Stop)

	playback := service.NewPlaybackService(catalog, transcripts, transcription, tokens, sseManager, config.CaptionsConfig{
		Enabled:        true,
		MaxAttempts:    2,
		Lookback:       60 * time.Second,
		Lookahead:      300 * time.Second,
		MatchTolerance: 2 * time.Second,
	}, log)
	t.Cleanup(playback.Close)

	srv := NewServer(config.ServerConfig{}, &Services{
		Book:          books,
		Transcript:    transcripts,
		Transcription: transcription,
		Playback:      playback,
	}, catalog, index, sseManager, log)
	t.Cleanup(srv.Close)

	return &testServer{
		Server:      srv,
		api:         humatest.Wrap(t, srv.API()),
		dir:         dir,
		catalog:     catalog,
		transcripts: transcripts,
	}
}

// registerBook writes a placeholder audio file and registers it over the API.
func (ts *testServer) registerBook(t *testing.T, name string) BookResponse {
	t.Helper()
	path := filepath.Join(ts.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0o644))

	resp := ts.api.Post("/api/v1/books", map[string]any{"path": path})
	require.Equal(t, 201, resp.Code, resp.Body.String())

	var book BookResponse
	decodeData(t, resp.Body.Bytes(), &book)
	return book
}

// storeChunk inserts a transcript chunk with a sentence every step seconds.
func (ts *testServer) storeChunk(t *testing.T, bookID string, start, end, step float64) {
	t.Helper()
	chunk := &domain.TranscriptionChunk{BookID: bookID, StartTime: start, EndTime: end, Language: "en", IsComplete: true}
	for at := start; at < end; at += step {
		chunk.Sentences = append(chunk.Sentences, domain.TranscribedSentence{
			ID:        fmt.Sprintf("%s-%.0f", bookID, at),
			Text:      fmt.Sprintf("The harpoon flew at %.0f seconds.", at),
			StartTime: at,
			EndTime:   at + step*0.8,
		})
	}
	require.NoError(t, ts.transcripts.InsertChunk(t.Context(), chunk))
}

// decodeData unwraps the response envelope into out.
func decodeData(t *testing.T, body []byte, out any) {
	t.Helper()
	var env struct {
		Version int             `json:"v"`
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env), string(body))
	require.True(t, env.Success, string(body))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

// decodeError returns the coded error envelope.
func decodeError(t *testing.T, body []byte) APIErrorEnvelope {
	t.Helper()
	var env APIErrorEnvelope
	require.NoError(t, json.Unmarshal(body, &env), string(body))
	return env
}
