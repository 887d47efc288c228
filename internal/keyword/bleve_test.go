package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kurosawa/tansaku/internal/models"
)

func testRecords() []models.Record {
	return []models.Record{
		{ChunkID: "notes/ml.md#0", DocumentID: "notes/ml.md", ChunkIndex: 0, Content: "The gradient descent chapter mentions momentum and learning rates."},
		{ChunkID: "notes/ml.md#1", DocumentID: "notes/ml.md", ChunkIndex: 1, Content: "Bayesian inference needs a prior over the parameters."},
		{ChunkID: "notes/go.md#0", DocumentID: "notes/go.md", ChunkIndex: 0, Content: "Goroutines communicate over channels instead of sharing memory."},
	}
}

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.IndexChunks(ctx, testRecords()); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}

	results, err := idx.Search(ctx, "momentum", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one keyword result for \"momentum\"")
	}
	if results[0].ChunkID != "notes/ml.md#0" {
		t.Errorf("first result = %q, want notes/ml.md#0", results[0].ChunkID)
	}
	if results[0].DocumentID != "notes/ml.md" {
		t.Errorf("document ID = %q, want notes/ml.md", results[0].DocumentID)
	}

	// Standard analyzer (no stemming) so "bayesian" matches "Bayesian".
	results2, err := idx.Search(ctx, "bayesian", 10)
	if err != nil {
		t.Fatalf("Search bayesian: %v", err)
	}
	if len(results2) == 0 {
		t.Fatal("expected at least one keyword result for \"bayesian\"")
	}
	if results2[0].ChunkID != "notes/ml.md#1" {
		t.Errorf("first result = %q, want notes/ml.md#1", results2[0].ChunkID)
	}
}

func TestBleveIndex_DeleteDocument(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.IndexChunks(ctx, testRecords()); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}
	if err := idx.DeleteDocument(ctx, "notes/ml.md"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	results, err := idx.Search(ctx, "momentum", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}

	// Other documents are untouched.
	results, err = idx.Search(ctx, "goroutines", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result for other document, got %d", len(results))
	}

	// Deleting a never-indexed document is not an error.
	if err := idx.DeleteDocument(ctx, "notes/absent.md"); err != nil {
		t.Errorf("DeleteDocument on missing document: %v", err)
	}
}

func TestBleveIndex_Reset(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.IndexChunks(ctx, testRecords()); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}
	if err := idx.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	count, err := idx.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty index after reset, got %d chunks", count)
	}
}

func TestBleveIndex_OpenExisting(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "bleve")
	ctx := context.Background()

	idx1, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	if err := idx1.IndexChunks(ctx, testRecords()); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}
	if err := idx1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx2, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex (open existing): %v", err)
	}
	defer func() {
		_ = idx2.Close()
	}()

	results, err := idx2.Search(ctx, "channels", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("reopened index lost data: got %d results", len(results))
	}
}
