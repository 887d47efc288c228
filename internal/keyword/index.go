// Package keyword provides keyword search over indexed chunks.
package keyword

import (
	"context"

	"github.com/kurosawa/tansaku/internal/models"
)

// Index defines keyword search operations over chunks.
type Index interface {
	// IndexChunks indexes or reindexes the given records in one batch.
	IndexChunks(ctx context.Context, recs []models.Record) error
	// Search runs a match query and returns up to limit chunk hits.
	Search(ctx context.Context, query string, limit int) ([]*Result, error)
	// DeleteDocument removes every chunk belonging to the document.
	DeleteDocument(ctx context.Context, docID string) error
	// Reset drops all indexed chunks.
	Reset(ctx context.Context) error
	// DocCount returns the total number of indexed chunks.
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword search hit.
type Result struct {
	ChunkID    string
	DocumentID string
	Score      float64
}
