package library

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"

	"github.com/listenupapp/listenup-captions/internal/domain"
)

func TestIsAudiobook(t *testing.T) {
	assert.True(t, IsAudiobook("/lib/a.m4b"))
	assert.True(t, IsAudiobook("/lib/A.MP3"))
	assert.False(t, IsAudiobook("/lib/a.flac"))
	assert.False(t, IsAudiobook("/lib/m4b"))
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.m4b")
	content := []byte("not really audio")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	got, err := HashFile(path)
	require.NoError(t, err)

	sum := blake3.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), got)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing.m4b"))
	assert.Error(t, err)
}

func TestNormalizeChapters(t *testing.T) {
	got := NormalizeChapters([]domain.Chapter{
		{Index: 7, Title: "Two", StartTime: 600, EndTime: 0},
		{Index: 3, Title: " One ", StartTime: 0, EndTime: 650},
		{Index: 9, Title: "", StartTime: 1200, EndTime: 0},
		{Index: 10, Title: "Ghost", StartTime: 5000, EndTime: 5100},
	}, 1800)

	assert.Equal(t, []domain.Chapter{
		{Index: 0, Title: "One", StartTime: 0, EndTime: 600},
		{Index: 1, Title: "Two", StartTime: 600, EndTime: 1200},
		{Index: 2, Title: "Chapter 3", StartTime: 1200, EndTime: 1800},
	}, got)
}

func TestNormalizeChapters_Empty(t *testing.T) {
	assert.Nil(t, NormalizeChapters(nil, 100))
}

func TestMetaProber_MissingFile(t *testing.T) {
	_, err := MetaProber{}.Probe(context.Background(), filepath.Join(t.TempDir(), "missing.m4b"))
	assert.Error(t, err)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "Moby Dick", firstNonEmpty("", "  ", "Moby Dick", "x"))
	assert.Equal(t, "moby", titleFromPath("/lib/moby.m4b"))
}
