package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-captions/internal/domain"
	domainerrors "github.com/listenupapp/listenup-captions/internal/errors"
	"github.com/listenupapp/listenup-captions/internal/library"
	"github.com/listenupapp/listenup-captions/internal/logger"
	"github.com/listenupapp/listenup-captions/internal/sse"
	"github.com/listenupapp/listenup-captions/internal/validation"
)

type fakeProber struct {
	info  *library.Info
	err   error
	calls int
}

func (f *fakeProber) Probe(_ context.Context, path string) (*library.Info, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	info := *f.info
	if info.Title == "" {
		info.Title = filepath.Base(path)
	}
	return &info, nil
}

func newBookService(t *testing.T, env *testEnv, prober library.Prober) *BookService {
	t.Helper()
	return NewBookService(env.catalog, env.transcripts, prober, validation.New(), logger.Discard())
}

func writeAudio(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testInfo() *library.Info {
	return &library.Info{
		Title:    "Moby Dick",
		Author:   "Herman Melville",
		Format:   "M4B",
		Duration: 3600,
		Chapters: []domain.Chapter{
			{Index: 0, Title: "Loomings", StartTime: 0, EndTime: 1800},
			{Index: 1, Title: "The Carpet-Bag", StartTime: 1800, EndTime: 3600},
		},
	}
}

func TestBookService_RegisterBook(t *testing.T) {
	env := newTestEnv(t)
	svc := newBookService(t, env, &fakeProber{info: testInfo()})
	ctx := t.Context()

	path := writeAudio(t, t.TempDir(), "moby.m4b", "audio-v1")
	book, err := svc.RegisterBook(ctx, path)
	require.NoError(t, err)

	assert.Contains(t, book.ID, "bk-")
	assert.Equal(t, "Moby Dick", book.Title)
	assert.Equal(t, 3600.0, book.Duration)
	assert.Len(t, book.SourceHash, 64)
	assert.Len(t, env.events.ofType(sse.EventBookRegistered), 1)

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.Chapters, got.Chapters)

	books, err := svc.ListBooks(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestBookService_RegisterSameFileTwice(t *testing.T) {
	env := newTestEnv(t)
	prober := &fakeProber{info: testInfo()}
	svc := newBookService(t, env, prober)
	ctx := t.Context()

	path := writeAudio(t, t.TempDir(), "moby.m4b", "audio-v1")
	first, err := svc.RegisterBook(ctx, path)
	require.NoError(t, err)

	second, err := svc.RegisterBook(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, prober.calls)
}

func TestBookService_RegisterChangedFileDropsTranscript(t *testing.T) {
	env := newTestEnv(t)
	svc := newBookService(t, env, &fakeProber{info: testInfo()})
	ctx := t.Context()

	dir := t.TempDir()
	path := writeAudio(t, dir, "moby.m4b", "audio-v1")
	first, err := svc.RegisterBook(ctx, path)
	require.NoError(t, err)
	require.NoError(t, env.transcripts.InsertChunk(ctx, makeChunk(first.ID, 0, 60, 10)))

	writeAudio(t, dir, "moby.m4b", "audio-v2")
	second, err := svc.RegisterBook(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.SourceHash, second.SourceHash)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())

	sentences, err := env.transcripts.LoadSentences(ctx, first.ID, 0, 3600)
	require.NoError(t, err)
	assert.Empty(t, sentences)
}

func TestBookService_RegisterErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	dir := t.TempDir()

	svc := newBookService(t, env, &fakeProber{info: testInfo()})

	_, err := svc.RegisterBook(ctx, writeAudio(t, dir, "notes.txt", "x"))
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = svc.RegisterBook(ctx, filepath.Join(dir, "missing.m4b"))
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	broken := newBookService(t, env, &fakeProber{err: errors.New("no moov atom")})
	_, err = broken.RegisterBook(ctx, writeAudio(t, dir, "broken.m4b", "x"))
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	empty := testInfo()
	empty.Duration = 0
	zero := newBookService(t, env, &fakeProber{info: empty})
	_, err = zero.RegisterBook(ctx, writeAudio(t, dir, "silent.m4b", "x"))
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestBookService_DeleteBook(t *testing.T) {
	env := newTestEnv(t)
	svc := newBookService(t, env, &fakeProber{info: testInfo()})
	ctx := t.Context()

	book, err := svc.RegisterBook(ctx, writeAudio(t, t.TempDir(), "moby.m4b", "audio"))
	require.NoError(t, err)
	require.NoError(t, env.transcripts.InsertChunk(ctx, makeChunk(book.ID, 0, 60, 10)))

	require.NoError(t, svc.DeleteBook(ctx, book.ID))
	assert.Len(t, env.events.ofType(sse.EventBookDeleted), 1)

	_, err = svc.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	sentences, err := env.transcripts.LoadSentences(ctx, book.ID, 0, 3600)
	require.NoError(t, err)
	assert.Empty(t, sentences)

	count, err := env.index.DocumentCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, svc.DeleteBook(ctx, book.ID), domainerrors.ErrNotFound)
}

func TestBookService_GetBookByPath(t *testing.T) {
	env := newTestEnv(t)
	svc := newBookService(t, env, &fakeProber{info: testInfo()})
	env.addBook(t, "bk-1")

	book, err := svc.GetBookByPath(t.Context(), "/audio/bk-1.m4b")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", book.ID)

	_, err = svc.GetBookByPath(t.Context(), "/audio/none.m4b")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}
