// Package di provides dependency injection configuration for the captions server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-captions/internal/auth"
	"github.com/listenupapp/listenup-captions/internal/config"
	"github.com/listenupapp/listenup-captions/internal/di/providers"
	"github.com/listenupapp/listenup-captions/internal/logger"
	"github.com/listenupapp/listenup-captions/internal/service"
	"github.com/listenupapp/listenup-captions/internal/validation"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideValidator)

	// Storage layer
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideTranscriptStore)
	do.Provide(injector, providers.ProvideCatalog)
	do.Provide(injector, providers.ProvideSearchIndex)

	// Auth layer
	do.Provide(injector, providers.ProvideTokenService)

	// Business services
	do.Provide(injector, providers.ProvideTranscriptService)
	do.Provide(injector, providers.ProvideBookService)

	// Workers
	do.Provide(injector, providers.ProvideTranscriptionService)
	do.Provide(injector, providers.ProvidePlaybackService)
	do.Provide(injector, providers.ProvideLibraryService)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and starts the workers and the HTTP server.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*validation.Validator](injector)
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)

	// Storage failures are reported rather than panicking.
	if _, err := do.Invoke[*providers.TranscriptStoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.CatalogHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.SearchIndexHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*auth.TokenService](injector); err != nil {
		return err
	}

	// Business services
	_ = do.MustInvoke[*service.TranscriptService](injector)
	_ = do.MustInvoke[*service.BookService](injector)

	// Workers
	_ = do.MustInvoke[*providers.TranscriptionServiceHandle](injector)
	_ = do.MustInvoke[*providers.PlaybackServiceHandle](injector)
	if _, err := do.Invoke[*providers.LibraryServiceHandle](injector); err != nil {
		return err
	}

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	providers.TriggerSearchReindexIfNeeded(injector)

	return nil
}
