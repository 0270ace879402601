package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/listenupapp/listenup-captions/internal/domain"
)

// TranscriptIndex wraps a Bleve index of transcribed sentences.
//
// All public methods are safe for concurrent use. The mutex guards the
// index handle across Rebuild.
type TranscriptIndex struct {
	index  bleve.Index
	path   string
	logger *slog.Logger
	mu     sync.RWMutex
}

// Options configures the search index.
type Options struct {
	DataPath string       // Directory for index storage
	Logger   *slog.Logger // Logger for operations (uses discard if nil)
}

// mappingVersion is incremented whenever the index mapping changes.
// A mismatch triggers a rebuild on startup.
const mappingVersion = "1"

const batchSize = 500

// NewTranscriptIndex creates or opens a search index under opts.DataPath.
// An index that is corrupted or has an outdated mapping is removed and recreated.
func NewTranscriptIndex(opts Options) (*TranscriptIndex, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(opts.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create search directory: %w", err)
	}

	indexPath := filepath.Join(opts.DataPath, "transcripts.bleve")
	versionPath := filepath.Join(opts.DataPath, "transcripts.version")

	var index bleve.Index
	var err error
	needsRebuild := false

	indexExists := false
	if _, statErr := os.Stat(indexPath); statErr == nil {
		indexExists = true
	}

	if indexExists {
		existingVersion, readErr := os.ReadFile(versionPath)
		switch {
		case readErr != nil:
			logger.Info("search index has no version file, will rebuild with current mapping",
				"new_version", mappingVersion,
			)
			needsRebuild = true
		case string(existingVersion) != mappingVersion:
			logger.Info("search index mapping version changed, will rebuild",
				"old_version", string(existingVersion),
				"new_version", mappingVersion,
			)
			needsRebuild = true
		}
	}

	if !needsRebuild && indexExists {
		index, err = bleve.Open(indexPath)
		if err != nil {
			logger.Warn("failed to open existing index, will recreate",
				"path", indexPath,
				"error", err,
			)
			needsRebuild = true
		}
	}

	if needsRebuild {
		if removeErr := os.RemoveAll(indexPath); removeErr != nil {
			return nil, fmt.Errorf("remove old index: %w", removeErr)
		}
		index = nil
	}

	if index == nil {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		if writeErr := os.WriteFile(versionPath, []byte(mappingVersion), 0o644); writeErr != nil {
			logger.Warn("failed to write search version file", "error", writeErr)
		}
		logger.Info("created new search index", "path", indexPath, "mapping_version", mappingVersion)
	} else {
		logger.Info("opened existing search index", "path", indexPath)
	}

	return &TranscriptIndex{
		index:  index,
		path:   indexPath,
		logger: logger,
	}, nil
}

// Close closes the index and releases resources.
func (s *TranscriptIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// IndexChunk indexes every sentence of a stored chunk.
func (s *TranscriptIndex) IndexChunk(chunk *domain.TranscriptionChunk) error {
	return s.IndexDocuments(DocumentsFromChunk(chunk))
}

// IndexDocuments indexes documents in batches of batchSize.
func (s *TranscriptIndex) IndexDocuments(docs []*SentenceDocument) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := 0; i < len(docs); i += batchSize {
		end := min(i+batchSize, len(docs))

		batch := s.index.NewBatch()
		for _, doc := range docs[i:end] {
			if err := batch.Index(doc.ID, doc.ToMap()); err != nil {
				return fmt.Errorf("batch index %s: %w", doc.ID, err)
			}
		}

		if err := s.index.Batch(batch); err != nil {
			return fmt.Errorf("commit batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// DeleteBook removes every sentence of a book from the index.
func (s *TranscriptIndex) DeleteBook(ctx context.Context, bookID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := bleve.NewTermQuery(bookID)
	q.SetField("book_id")

	deleted := 0
	for {
		req := bleve.NewSearchRequestOptions(q, batchSize, 0, false)
		res, err := s.index.SearchInContext(ctx, req)
		if err != nil {
			return deleted, fmt.Errorf("find book documents: %w", err)
		}
		if len(res.Hits) == 0 {
			return deleted, nil
		}

		batch := s.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := s.index.Batch(batch); err != nil {
			return deleted, fmt.Errorf("delete book documents: %w", err)
		}
		deleted += len(res.Hits)
	}
}

// DocumentCount returns the total number of indexed sentences.
func (s *TranscriptIndex) DocumentCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Rebuild drops the existing index and creates an empty one.
//
// This takes the exclusive lock and blocks all other operations.
func (s *TranscriptIndex) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("remove index: %w", err)
	}

	index, err := bleve.New(s.path, buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	s.index = index
	s.logger.Info("rebuilt search index", "path", s.path)

	return nil
}
