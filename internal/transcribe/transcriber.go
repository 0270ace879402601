package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/listenupapp/listenup-captions/internal/domain"
)

// AudioExtractor cuts a time range out of an audio file.
type AudioExtractor interface {
	Extract(ctx context.Context, source string, start, end float64, onProgress func(int)) (string, error)
}

// Request describes one transcription run.
type Request struct {
	SourcePath string
	StartTime  float64
	EndTime    float64
	Language   string
}

// Transcriber runs extraction, recognition and sentence splitting for one range.
type Transcriber struct {
	extractor AudioExtractor
	backend   Backend
	logger    *slog.Logger
}

// NewTranscriber creates a transcriber.
func NewTranscriber(extractor AudioExtractor, backend Backend, logger *slog.Logger) *Transcriber {
	return &Transcriber{extractor: extractor, backend: backend, logger: logger}
}

// NewExtractorWithCleanup is NewExtractor that also removes windows left by a previous process.
func NewExtractorWithCleanup(ffmpegPath, cacheDir string, logger *slog.Logger) (*Extractor, error) {
	e, err := NewExtractor(ffmpegPath, cacheDir, logger)
	if err != nil {
		return nil, err
	}
	if n, err := cleanupWindows(cacheDir); err != nil {
		logger.Warn("failed to clean audio windows", slog.Any("error", err))
	} else if n > 0 {
		logger.Info("removed stale audio windows", slog.Int("count", n))
	}
	return e, nil
}

// Backend returns the configured speech engine.
func (t *Transcriber) Backend() Backend { return t.backend }

// Run transcribes req and returns sentences on the book timeline, clamped to
// the requested range. onProgress, if set, receives 0-100.
func (t *Transcriber) Run(ctx context.Context, req Request, onProgress func(int)) ([]domain.TranscribedSentence, error) {
	if req.EndTime <= req.StartTime {
		return nil, fmt.Errorf("invalid range [%.3f, %.3f]", req.StartTime, req.EndTime)
	}
	report := func(p int) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	started := time.Now()

	// Extraction is the first half of the work; recognition the rest.
	audio, err := t.extractor.Extract(ctx, req.SourcePath, req.StartTime, req.EndTime, func(p int) {
		report(p / 2)
	})
	if err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	defer func() {
		if err := os.Remove(audio); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("failed to remove audio window", slog.String("path", audio), slog.Any("error", err))
		}
	}()
	report(50)

	segments, err := t.backend.Transcribe(ctx, audio, req.Language)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.backend.Name(), err)
	}
	report(95)

	sentences := SplitSentences(segments, req.StartTime, req.StartTime, req.EndTime)

	t.logger.Info("transcribed range",
		slog.String("backend", t.backend.Name()),
		slog.Float64("start", req.StartTime),
		slog.Float64("end", req.EndTime),
		slog.Int("segments", len(segments)),
		slog.Int("sentences", len(sentences)),
		slog.Duration("took", time.Since(started)),
	)
	return sentences, nil
}
