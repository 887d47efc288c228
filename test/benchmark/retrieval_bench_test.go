package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/kurosawa/tansaku/internal/chunker"
	"github.com/kurosawa/tansaku/internal/embedding"
	"github.com/kurosawa/tansaku/internal/models"
	"github.com/kurosawa/tansaku/internal/retriever"
	"github.com/kurosawa/tansaku/internal/vectorstore"
)

func populatedStore(b *testing.B, chunks, dims int) *vectorstore.Store {
	b.Helper()
	store, err := vectorstore.New("mock", dims)
	if err != nil {
		b.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(dims)
	ctx := context.Background()
	recs := make([]models.Record, 0, chunks)
	for i := 0; i < chunks; i++ {
		docID := fmt.Sprintf("/vault/doc-%d.md", i/8)
		vec, err := embedder.Embed(ctx, fmt.Sprintf("chunk %d content", i))
		if err != nil {
			b.Fatal(err)
		}
		recs = append(recs, models.Record{
			ChunkID:     models.ChunkID(docID, i%8),
			DocumentID:  docID,
			ChunkIndex:  i % 8,
			Content:     fmt.Sprintf("chunk %d content", i),
			Fingerprint: "fp",
			Vector:      vec,
		})
	}
	if err := store.ReplaceAll(recs); err != nil {
		b.Fatal(err)
	}
	return store
}

func BenchmarkTopK(b *testing.B) {
	store := populatedStore(b, 10000, 384)
	r := retriever.New(store)
	embedder := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	query, _ := embedder.Embed(ctx, "benchmark query")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.TopK(ctx, query, 10); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCosineSimilarity(b *testing.B) {
	embedder := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	x, _ := embedder.Embed(ctx, "left")
	y, _ := embedder.Embed(ctx, "right")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = retriever.CosineSimilarity(x, y)
	}
}

func BenchmarkChunkerSplit(b *testing.B) {
	c, err := chunker.New(64, 8)
	if err != nil {
		b.Fatal(err)
	}
	text := ""
	for i := 0; i < 2000; i++ {
		text += fmt.Sprintf("word%d ", i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Split("/vault/doc.md", text)
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Embed(ctx, "benchmark query text for embedding"); err != nil {
			b.Fatal(err)
		}
	}
}
