package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-captions/internal/config"
	"github.com/listenupapp/listenup-captions/internal/logger"
	"github.com/listenupapp/listenup-captions/internal/search"
	"github.com/listenupapp/listenup-captions/internal/service"
)

// SearchIndexHandle wraps the search index with shutdown capability.
type SearchIndexHandle struct {
	*search.TranscriptIndex
}

// Shutdown implements do.Shutdownable.
func (h *SearchIndexHandle) Shutdown() error {
	return h.Close()
}

// ProvideSearchIndex provides the Bleve transcript index.
func ProvideSearchIndex(i do.Injector) (*SearchIndexHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	index, err := search.NewTranscriptIndex(search.Options{
		DataPath: cfg.Metadata.SearchPath(),
		Logger:   log.Logger,
	})
	if err != nil {
		return nil, err
	}

	docCount, _ := index.DocumentCount()
	log.Info("Search index initialized", "documents", docCount)

	return &SearchIndexHandle{TranscriptIndex: index}, nil
}

// TriggerSearchReindexIfNeeded rebuilds the index from stored chunks when it
// comes up empty, e.g. after a mapping change wiped it.
func TriggerSearchReindexIfNeeded(i do.Injector) {
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	transcripts := do.MustInvoke[*service.TranscriptService](i)
	log := do.MustInvoke[*logger.Logger](i)

	docCount, _ := indexHandle.DocumentCount()
	if docCount > 0 {
		return
	}

	go func() {
		n, err := transcripts.Reindex(context.Background())
		if err != nil {
			log.WithError(err).Error("Initial search reindex failed")
			return
		}
		if n > 0 {
			log.Info("Initial search reindex completed", "documents", n)
		}
	}()
}
