// Package keyword provides the Bleve implementation of Index.
package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/kurosawa/tansaku/internal/models"
)

// chunkDoc is the shape Bleve indexes per chunk.
type chunkDoc struct {
	Content    string `json:"content"`
	DocumentID string `json:"document_id"`
}

// BleveIndex implements Index using Bleve. Path "" creates a pure in-memory
// index, which is what tests and ephemeral deployments use.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// An existing index at path is opened and reused so incremental updates keep
// working across restarts. If the mapping in code changes, remove the index
// directory to force a full rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := buildMapping()

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func buildMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so queries match
	// the exact word; stemming analyzers mangle domain terms.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("document_id", keywordFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping

	return im
}

// IndexChunks indexes the records in a single Bleve batch.
func (b *BleveIndex) IndexChunks(ctx context.Context, recs []models.Record) error {
	if len(recs) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := chunkDoc{Content: recs[i].Content, DocumentID: recs[i].DocumentID}
		if err := batch.Index(recs[i].ChunkID, doc); err != nil {
			return fmt.Errorf("batch chunk %s: %w", recs[i].ChunkID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Search runs a match query over chunk content.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	search := bleve.NewSearchRequest(q)
	search.Size = limit
	search.Fields = []string{"document_id"}
	results, err := b.index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, len(results.Hits))
	for i, hit := range results.Hits {
		docID, _ := hit.Fields["document_id"].(string)
		out[i] = &Result{ChunkID: hit.ID, DocumentID: docID, Score: hit.Score}
	}
	return out, nil
}

// DeleteDocument removes every chunk whose document_id matches docID.
func (b *BleveIndex) DeleteDocument(ctx context.Context, docID string) error {
	ids, err := b.chunkIDs(ctx, docID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve delete batch failed: %w", err)
	}
	return nil
}

// chunkIDs lists the chunk IDs indexed for a document.
func (b *BleveIndex) chunkIDs(ctx context.Context, docID string) ([]string, error) {
	q := bleve.NewTermQuery(docID)
	q.SetField("document_id")
	req := bleve.NewSearchRequest(q)
	req.Size = maxChunksPerDocument
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve term search failed: %w", err)
	}
	ids := make([]string, len(results.Hits))
	for i, hit := range results.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Reset removes every indexed chunk.
func (b *BleveIndex) Reset(ctx context.Context) error {
	q := bleve.NewMatchAllQuery()
	req := bleve.NewSearchRequest(q)
	req.Size = resetPageSize
	for {
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("Bleve reset search failed: %w", err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("Bleve reset batch failed: %w", err)
		}
	}
}

// DocCount returns the total number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

const (
	// maxChunksPerDocument bounds the term query used to enumerate a
	// document's chunks. Vault documents are far below this.
	maxChunksPerDocument = 10000
	resetPageSize        = 1000
)
