package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-captions/internal/library"
	"github.com/listenupapp/listenup-captions/internal/logger"
	"github.com/listenupapp/listenup-captions/internal/service"
	"github.com/listenupapp/listenup-captions/internal/validation"
)

// ProvideValidator provides the shared struct validator.
func ProvideValidator(i do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}

// ProvideTranscriptService provides the transcript store facade.
func ProvideTranscriptService(i do.Injector) (*service.TranscriptService, error) {
	storeHandle := do.MustInvoke[*TranscriptStoreHandle](i)
	catalog := do.MustInvoke[*CatalogHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	v := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewTranscriptService(storeHandle.Store, catalog.Store, indexHandle.TranscriptIndex, v, log.Logger), nil
}

// ProvideBookService provides the book catalog service.
func ProvideBookService(i do.Injector) (*service.BookService, error) {
	catalog := do.MustInvoke[*CatalogHandle](i)
	transcripts := do.MustInvoke[*service.TranscriptService](i)
	v := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewBookService(catalog.Store, transcripts, library.MetaProber{}, v, log.Logger), nil
}
