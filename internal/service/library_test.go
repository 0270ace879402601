package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-captions/internal/logger"
	"github.com/listenupapp/listenup-captions/internal/watcher"
)

func TestLibraryService_SyncsDirectory(t *testing.T) {
	env := newTestEnv(t)
	books := newBookService(t, env, &fakeProber{info: testInfo()})

	dir := t.TempDir()
	existing := writeAudio(t, dir, "existing.m4b", "audio-1")
	writeAudio(t, dir, "cover.jpg", "jpeg")

	w, err := watcher.New(logger.Discard(), watcher.Options{SettleDelay: 50 * time.Millisecond})
	require.NoError(t, err)
	lib := NewLibraryService(books, w, dir, logger.Discard())
	t.Cleanup(func() { _ = lib.Stop() })

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = lib.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := books.GetBookByPath(ctx, existing)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	added := writeAudio(t, dir, "added.mp3", "audio-2")
	require.Eventually(t, func() bool {
		_, err := books.GetBookByPath(ctx, added)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(added))
	require.Eventually(t, func() bool {
		_, err := books.GetBookByPath(ctx, added)
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)

	list, err := books.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, filepath.Clean(existing), list[0].Path)
}
