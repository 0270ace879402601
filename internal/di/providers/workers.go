package providers

import (
	"context"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-captions/internal/auth"
	"github.com/listenupapp/listenup-captions/internal/config"
	"github.com/listenupapp/listenup-captions/internal/logger"
	"github.com/listenupapp/listenup-captions/internal/ratelimit"
	"github.com/listenupapp/listenup-captions/internal/service"
	"github.com/listenupapp/listenup-captions/internal/transcribe"
	"github.com/listenupapp/listenup-captions/internal/watcher"
)

// TranscriptionServiceHandle wraps the transcription worker pool.
type TranscriptionServiceHandle struct {
	*service.TranscriptionService
	limiter *ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *TranscriptionServiceHandle) Shutdown() error {
	h.Stop()
	if h.limiter != nil {
		h.limiter.Stop()
	}
	return nil
}

// ProvideTranscriptionService provides the transcription service and starts its workers.
// A missing speech engine or ffmpeg disables transcription instead of failing startup.
func ProvideTranscriptionService(i do.Injector) (*TranscriptionServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	catalog := do.MustInvoke[*CatalogHandle](i)
	transcripts := do.MustInvoke[*service.TranscriptService](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	componentLog := log.Component("transcription")

	var (
		runner  service.Runner
		limiter *ratelimit.KeyedRateLimiter
	)
	if cfg.Transcription.Enabled {
		runner, limiter = buildRunner(cfg, componentLog)
	}

	svc := service.NewTranscriptionService(
		catalog.Store,
		transcripts,
		runner,
		sseHandle.Manager,
		cfg.Transcription,
		componentLog,
	)
	svc.Start()

	return &TranscriptionServiceHandle{TranscriptionService: svc, limiter: limiter}, nil
}

func buildRunner(cfg *config.Config, log *slog.Logger) (service.Runner, *ratelimit.KeyedRateLimiter) {
	var limiter *ratelimit.KeyedRateLimiter
	if cfg.Transcription.Backend == config.BackendOpenAI {
		limiter = ratelimit.PerMinute(cfg.Transcription.RequestsPerMinute)
	}

	backend, err := transcribe.NewBackend(cfg.Transcription, limiter, log)
	if err != nil {
		log.Warn("speech engine unavailable, transcription disabled", slog.Any("error", err))
		if limiter != nil {
			limiter.Stop()
		}
		return nil, nil
	}

	extractor, err := transcribe.NewExtractorWithCleanup(cfg.Transcription.FFmpegPath, cfg.Metadata.CachePath(), log)
	if err != nil {
		log.Warn("ffmpeg unavailable, transcription disabled", slog.Any("error", err))
		if limiter != nil {
			limiter.Stop()
		}
		return nil, nil
	}

	return transcribe.NewTranscriber(extractor, backend, log), limiter
}

// PlaybackServiceHandle wraps the playback service and its idle session reaper.
type PlaybackServiceHandle struct {
	*service.PlaybackService
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *PlaybackServiceHandle) Shutdown() error {
	h.cancel()
	h.Close()
	return nil
}

// ProvidePlaybackService provides the playback session service.
func ProvidePlaybackService(i do.Injector) (*PlaybackServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	catalog := do.MustInvoke[*CatalogHandle](i)
	transcripts := do.MustInvoke[*service.TranscriptService](i)
	transcription := do.MustInvoke[*TranscriptionServiceHandle](i)
	tokens := do.MustInvoke[*auth.TokenService](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	svc := service.NewPlaybackService(
		catalog.Store,
		transcripts,
		transcription.TranscriptionService,
		tokens,
		sseHandle.Manager,
		cfg.Captions,
		log.Component("playback"),
	)

	// Sessions parked on an empty window retry once new text lands.
	transcription.OnChunkStored(svc.TranscriptUpdated)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx)

	return &PlaybackServiceHandle{PlaybackService: svc, cancel: cancel}, nil
}

// LibraryServiceHandle wraps the library watcher loop. The embedded service
// is nil when no watched library is configured.
type LibraryServiceHandle struct {
	*service.LibraryService
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (h *LibraryServiceHandle) Shutdown() error {
	if h.LibraryService == nil {
		return nil
	}
	h.cancel()
	<-h.done
	return h.Stop()
}

// ProvideLibraryService provides the audiobook directory watcher.
func ProvideLibraryService(i do.Injector) (*LibraryServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.Library.Watch || cfg.Library.AudiobookPath == "" {
		log.Info("Library watching disabled")
		return &LibraryServiceHandle{}, nil
	}

	books := do.MustInvoke[*service.BookService](i)
	componentLog := log.Component("library")

	w, err := watcher.New(componentLog, watcher.Options{IgnoreHidden: true})
	if err != nil {
		return nil, err
	}

	svc := service.NewLibraryService(books, w, cfg.Library.AudiobookPath, componentLog)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.Run(ctx); err != nil {
			componentLog.Error("library service stopped", slog.Any("error", err))
		}
	}()

	log.WithField("path", cfg.Library.AudiobookPath).Info("Library watching enabled")

	return &LibraryServiceHandle{LibraryService: svc, cancel: cancel, done: done}, nil
}
