package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-captions/internal/config"
	"github.com/listenupapp/listenup-captions/internal/logger"
	"github.com/listenupapp/listenup-captions/internal/sse"
	"github.com/listenupapp/listenup-captions/internal/store"
	"github.com/listenupapp/listenup-captions/internal/store/sqlite"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	manager := sse.NewManager(log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Info("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// TranscriptStoreHandle wraps the badger transcript store with shutdown capability.
type TranscriptStoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *TranscriptStoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideTranscriptStore provides the transcript chunk store.
func ProvideTranscriptStore(i do.Injector) (*TranscriptStoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	path := cfg.Metadata.TranscriptsPath()
	db, err := store.New(path, log.Logger, sseHandle.Manager)
	if err != nil {
		return nil, err
	}

	log.Info("Transcript store initialized", "path", path)

	return &TranscriptStoreHandle{Store: db}, nil
}

// CatalogHandle wraps the SQLite catalog with shutdown capability.
type CatalogHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *CatalogHandle) Shutdown() error {
	return h.Close()
}

// ProvideCatalog provides the book and job catalog.
func ProvideCatalog(i do.Injector) (*CatalogHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	db, err := sqlite.Open(cfg.Metadata.CatalogPath(), log.Logger)
	if err != nil {
		return nil, err
	}
	db.SetEmitter(sseHandle.Manager)

	return &CatalogHandle{Store: db}, nil
}
