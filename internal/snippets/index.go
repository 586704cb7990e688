// Package snippets maintains a BM25 index over document blocks so a turn
// can pull in passages related to the user's instruction.
package snippets

import (
	"fmt"
	"log"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/vrite/vrite/internal/blocks"
)

// Index provides BM25 keyword search over the blocks of stored documents.
type Index struct {
	index bleve.Index
	path  string
}

// Open creates or opens the snippet index next to the given data path.
// A corrupted index is deleted and recreated rather than failing startup.
func Open(dataPath string) (*Index, error) {
	indexPath := dataPath + ".bleve"

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create snippet index: %w", err)
		}
	} else if err != nil {
		log.Printf("⚠️  Snippet index appears corrupted (error: %v), recreating...", err)
		if index != nil {
			index.Close()
		}
		if err := os.RemoveAll(indexPath); err != nil {
			log.Printf("⚠️  Failed to remove corrupted index directory: %v", err)
		}
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate snippet index: %w", err)
		}
	}

	return &Index{index: index, path: indexPath}, nil
}

// OpenMemOnly opens an in-memory index, used in tests and when no data
// directory is configured.
func OpenMemOnly() (*Index, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create snippet index: %w", err)
	}
	return &Index{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	blockMapping := bleve.NewDocumentMapping()

	docIDField := bleve.NewTextFieldMapping()
	docIDField.Analyzer = keyword.Name
	docIDField.Store = true
	docIDField.Index = true
	blockMapping.AddFieldMappingsAt("doc_id", docIDField)

	blockIDField := bleve.NewTextFieldMapping()
	blockIDField.Analyzer = keyword.Name
	blockIDField.Store = true
	blockIDField.Index = true
	blockMapping.AddFieldMappingsAt("block_id", blockIDField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = true
	textField.Index = true
	blockMapping.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = blockMapping

	return indexMapping
}

// IndexDocument replaces the indexed blocks for a document with the given
// serialized state. Blocks with no text are skipped.
func (ix *Index) IndexDocument(docID string, bs []blocks.Block) error {
	if err := ix.DeleteDocument(docID); err != nil {
		return err
	}

	batch := ix.index.NewBatch()
	for _, b := range bs {
		text := blocks.PlainText(b.Segments)
		if text == "" {
			continue
		}
		doc := map[string]interface{}{
			"doc_id":   docID,
			"block_id": b.ID,
			"text":     text,
		}
		if err := batch.Index(docID+"/"+b.ID, doc); err != nil {
			return fmt.Errorf("failed to add block %s to batch: %w", b.ID, err)
		}
	}

	return ix.index.Batch(batch)
}

// DeleteDocument removes all indexed blocks for a document.
func (ix *Index) DeleteDocument(docID string) error {
	docQuery := bleve.NewTermQuery(docID)
	docQuery.SetField("doc_id")

	req := bleve.NewSearchRequest(docQuery)
	req.Size = 10000

	result, err := ix.index.Search(req)
	if err != nil {
		return fmt.Errorf("snippet index cleanup failed: %w", err)
	}

	batch := ix.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	return ix.index.Batch(batch)
}

// Search returns the text of the top blocks of a document matching the query.
func (ix *Index) Search(docID, query string, limit int) ([]string, error) {
	q := bleve.NewMatchQuery(query)

	docQuery := bleve.NewTermQuery(docID)
	docQuery.SetField("doc_id")

	combined := bleve.NewConjunctionQuery(q, docQuery)

	req := bleve.NewSearchRequest(combined)
	req.Size = limit
	req.Fields = []string{"text"}

	result, err := ix.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("snippet search failed: %w", err)
	}

	texts := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if text, ok := hit.Fields["text"].(string); ok {
			texts = append(texts, text)
		}
	}
	return texts, nil
}

// Close closes the underlying index.
func (ix *Index) Close() error {
	return ix.index.Close()
}
