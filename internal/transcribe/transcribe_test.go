package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWhisperOutput(t *testing.T) {
	doc := `{
		"text": " Call me Ishmael. Some years ago.",
		"language": "en",
		"segments": [
			{"id": 0, "start": 0.0, "end": 2.52, "text": " Call me Ishmael."},
			{"id": 1, "start": 2.52, "end": 4.1000000001, "text": " Some years ago."}
		]
	}`

	got, err := parseWhisperOutput(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Segment{Start: 0, End: 2.52, Text: " Call me Ishmael."}, got[0])
	assert.Equal(t, 4.1, got[1].End, "rounded to milliseconds")
}

func TestParseWhisperOutput_Invalid(t *testing.T) {
	_, err := parseWhisperOutput(strings.NewReader("not json"))
	assert.Error(t, err)
}

func TestLanguageCode(t *testing.T) {
	assert.Equal(t, "en", languageCode("en-US"))
	assert.Equal(t, "pt", languageCode("pt-BR"))
	assert.Equal(t, "de", languageCode("de"))
	assert.Empty(t, languageCode(""))
	assert.Empty(t, languageCode("!!"))
}

func TestOpenAIBackend_Transcribe(t *testing.T) {
	var gotFormat, gotModel, gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotFormat = r.FormValue("response_format")
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"task": "transcribe",
			"language": "english",
			"duration": 6.0,
			"text": "Hello. World.",
			"segments": [
				{"id": 0, "seek": 0, "start": 0.0, "end": 3.0, "text": " Hello."},
				{"id": 1, "seek": 0, "start": 3.0, "end": 6.0, "text": " World."}
			]
		}`))
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "window.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))

	b := NewOpenAIBackend(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	got, err := b.Transcribe(context.Background(), audio, "en-GB")
	require.NoError(t, err)

	assert.Equal(t, "verbose_json", gotFormat)
	assert.Equal(t, "whisper-1", gotModel)
	assert.Equal(t, "en", gotLanguage)
	assert.Equal(t, []Segment{
		{Start: 0, End: 3, Text: " Hello."},
		{Start: 3, End: 6, Text: " World."},
	}, got)
}

func TestOpenAIBackend_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "window.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))

	b := NewOpenAIBackend(OpenAIOptions{APIKey: "sk-bad", BaseURL: srv.URL + "/v1"})
	_, err := b.Transcribe(context.Background(), audio, "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestExtractArgs(t *testing.T) {
	args := extractArgs("/books/moby.m4b", "/tmp/w.wav", 300, 600.5)

	assert.Equal(t, []string{
		"-y", "-ss", "300.000", "-t", "300.500", "-i", "/books/moby.m4b",
		"-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le", "-f", "wav", "/tmp/w.wav",
	}, args)
}

func TestParseProgress(t *testing.T) {
	stderr := strings.Join([]string{
		"size=       0kB time=00:00:10.00 bitrate=   0.0kbits/s",
		"size=       0kB time=00:00:11.00 bitrate=   0.0kbits/s",
		"size=       0kB time=00:01:00.00 bitrate=   0.0kbits/s",
		"size=       0kB time=00:01:40.00 bitrate=   0.0kbits/s",
	}, "\r")

	var got []int
	parseProgress(strings.NewReader(stderr), 100, func(p int) { got = append(got, p) })
	assert.Equal(t, []int{10, 60, 100}, got)
}

type fakeExtractor struct {
	path string
	err  error
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, _, _ float64, onProgress func(int)) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	onProgress(100)
	return f.path, os.WriteFile(f.path, []byte("RIFF"), 0o644)
}

type fakeBackend struct {
	segments []Segment
	err      error
	language string
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Transcribe(_ context.Context, _, lang string) ([]Segment, error) {
	f.language = lang
	return f.segments, f.err
}

func TestTranscriber_Run(t *testing.T) {
	window := filepath.Join(t.TempDir(), "window.wav")
	backend := &fakeBackend{segments: []Segment{
		{Start: 0, End: 4, Text: "First sentence."},
		{Start: 4, End: 9, Text: "Second sentence."},
	}}
	tr := NewTranscriber(&fakeExtractor{path: window}, backend, slog.New(slog.DiscardHandler))

	var progress []int
	got, err := tr.Run(context.Background(), Request{
		SourcePath: "/books/b.m4b",
		StartTime:  300,
		EndTime:    600,
		Language:   "en",
	}, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.InDelta(t, 300.0, got[0].StartTime, 1e-9)
	assert.InDelta(t, 309.0, got[1].EndTime, 1e-9)
	assert.Equal(t, "en", backend.language)
	assert.Equal(t, []int{50, 50, 95}, progress)

	_, statErr := os.Stat(window)
	assert.True(t, os.IsNotExist(statErr), "audio window removed")
}

func TestTranscriber_RunErrors(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	req := Request{SourcePath: "/books/b.m4b", StartTime: 0, EndTime: 300}

	_, err := NewTranscriber(&fakeExtractor{err: errors.New("no such file")}, &fakeBackend{}, logger).
		Run(context.Background(), req, nil)
	assert.ErrorContains(t, err, "extract audio")

	window := filepath.Join(t.TempDir(), "window.wav")
	_, err = NewTranscriber(&fakeExtractor{path: window}, &fakeBackend{err: errors.New("model missing")}, logger).
		Run(context.Background(), req, nil)
	assert.ErrorContains(t, err, "fake: model missing")

	_, err = NewTranscriber(&fakeExtractor{path: window}, &fakeBackend{}, logger).
		Run(context.Background(), Request{StartTime: 10, EndTime: 10}, nil)
	assert.ErrorContains(t, err, "invalid range")
}

func TestCleanupWindows(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "window-1.wav"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), nil, 0o644))

	n, err := cleanupWindows(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(filepath.Join(dir, "keep.txt"))
	assert.NoError(t, err)
}
