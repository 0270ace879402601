package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// buildIndexMapping creates the Bleve index mapping for sentence documents.
//
// Text is analyzed with English stemming and keeps term vectors for
// highlighting. Book and chunk IDs are keywords so they can scope and delete.
// Times are numeric for range filtering and sorting.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = en.AnalyzerName
	textFieldMapping.Store = true
	textFieldMapping.IncludeTermVectors = true // For highlighting
	docMapping.AddFieldMappingsAt("text", textFieldMapping)

	for _, field := range []string{"id", "book_id", "chunk_id", "language"} {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Store = true
		docMapping.AddFieldMappingsAt(field, fm)
	}

	startFieldMapping := bleve.NewNumericFieldMapping()
	startFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("start_time", startFieldMapping)

	endFieldMapping := bleve.NewNumericFieldMapping()
	endFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("end_time", endFieldMapping)

	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}
