// Package transcribe turns a time range of an audiobook into timed sentences.
//
// A run extracts the range with ffmpeg, hands the audio to a speech-to-text
// Backend, and splits the returned segments into sentences placed on the
// book's timeline.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"

	"github.com/listenupapp/listenup-captions/internal/config"
	"github.com/listenupapp/listenup-captions/internal/ratelimit"
)

// Segment is a span of recognized speech, timed relative to the audio file
// handed to the backend.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Backend is a pluggable speech-to-text engine.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, audioPath, language string) ([]Segment, error)
}

// NewBackend builds the backend selected by configuration.
func NewBackend(cfg config.TranscriptionConfig, limiter *ratelimit.KeyedRateLimiter, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendWhisper, "":
		return NewWhisperBackend(cfg.WhisperPath, cfg.Model, logger)
	case config.BackendOpenAI:
		return NewOpenAIBackend(OpenAIOptions{
			APIKey:  cfg.OpenAIKey,
			Model:   cfg.Model,
			Limiter: limiter,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
	}
}

// languageCode reduces a BCP 47 tag to the ISO 639-1 code speech engines expect.
// An empty or unparseable tag yields "" so the engine auto-detects.
func languageCode(tag string) string {
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	base, _ := t.Base()
	return base.String()
}
