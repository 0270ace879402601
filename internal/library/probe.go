// Package library reads audiobook files: their duration, tags, chapter
// markers and a content fingerprint.
package library

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/simonhull/audiometa"

	"github.com/listenupapp/listenup-captions/internal/domain"
)

// Extensions are the containers the library accepts.
var Extensions = []string{".m4b", ".m4a", ".mp3"}

// IsAudiobook reports whether path has a supported extension.
func IsAudiobook(path string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(path)))
}

// Info is what the library learns from one audio file.
type Info struct {
	Title    string
	Author   string
	Format   string
	Duration float64 // seconds
	Chapters []domain.Chapter
}

// Prober reads Info from a file.
type Prober interface {
	Probe(ctx context.Context, path string) (*Info, error)
}

// MetaProber reads tags and chapters with audiometa.
type MetaProber struct{}

// Probe implements Prober.
func (MetaProber) Probe(ctx context.Context, path string) (*Info, error) {
	file, err := audiometa.OpenContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close() //nolint:errcheck // read-only handle

	info := &Info{
		Title:    firstNonEmpty(file.Tags.Album, file.Tags.Title, titleFromPath(path)),
		Author:   file.Tags.Artist,
		Format:   file.Format.String(),
		Duration: file.Audio.Duration.Seconds(),
	}

	for _, ch := range file.Chapters {
		info.Chapters = append(info.Chapters, domain.Chapter{
			Index:     ch.Index,
			Title:     ch.Title,
			StartTime: ch.StartTime.Seconds(),
			EndTime:   ch.EndTime.Seconds(),
		})
	}
	info.Chapters = NormalizeChapters(info.Chapters, info.Duration)

	return info, nil
}

// NormalizeChapters orders chapters, renumbers them from zero, closes open
// ends against the next chapter or the book's duration, and drops markers
// past the end of the audio.
func NormalizeChapters(chapters []domain.Chapter, duration float64) []domain.Chapter {
	if len(chapters) == 0 {
		return nil
	}

	sorted := slices.Clone(chapters)
	slices.SortStableFunc(sorted, func(a, b domain.Chapter) int {
		switch {
		case a.StartTime < b.StartTime:
			return -1
		case a.StartTime > b.StartTime:
			return 1
		}
		return 0
	})

	out := make([]domain.Chapter, 0, len(sorted))
	for i, ch := range sorted {
		if duration > 0 && ch.StartTime >= duration {
			break
		}
		end := ch.EndTime
		if i+1 < len(sorted) && (end <= ch.StartTime || end > sorted[i+1].StartTime) {
			end = sorted[i+1].StartTime
		}
		if i+1 == len(sorted) && duration > 0 && (end <= ch.StartTime || end > duration) {
			end = duration
		}
		if end < ch.StartTime {
			end = ch.StartTime
		}

		title := strings.TrimSpace(ch.Title)
		if title == "" {
			title = fmt.Sprintf("Chapter %d", len(out)+1)
		}
		out = append(out, domain.Chapter{
			Index:     len(out),
			Title:     title,
			StartTime: ch.StartTime,
			EndTime:   end,
		})
	}
	return out
}

func titleFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
