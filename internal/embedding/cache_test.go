package embedding

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

// Concurrent hits promote entries in the shared LRU list; run with the
// race detector to verify Get is safe alongside other readers and writers.
func TestEmbeddingCache_ConcurrentAccess(t *testing.T) {
	c := NewEmbeddingCache(8)
	for i := 0; i < 8; i++ {
		c.Set(fmt.Sprintf("key-%d", i), []float32{float32(i)})
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d", (g+i)%8)
				if g%2 == 0 {
					c.Get(key)
				} else {
					c.Set(key, []float32{float32(i)})
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Len() != 8 {
		t.Errorf("Len = %d, want 8", c.Len())
	}
}

// countingEmbedder counts how many texts reach the inner backend.
type countingEmbedder struct {
	*MockEmbedder
	embedded int
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.embedded += len(texts)
	return e.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_BatchServesHits(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8)}
	e := NewCachedEmbedder(inner, 100)
	ctx := context.Background()

	first, err := e.EmbedBatch(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.embedded != 2 {
		t.Errorf("expected 2 backend embeds, got %d", inner.embedded)
	}

	second, err := e.EmbedBatch(ctx, []string{"alpha", "gamma", "beta"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.embedded != 3 {
		t.Errorf("expected only the miss to hit the backend, got %d total", inner.embedded)
	}
	if len(second) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(second))
	}
	for i, v := range first[0] {
		if second[0][i] != v {
			t.Fatal("cached vector differs from original")
		}
	}
}

func TestCachedEmbedder_ID(t *testing.T) {
	e := NewCachedEmbedder(NewMockEmbedder(4), 10)
	if e.ID() != "mock" {
		t.Errorf("cache must not change backend identity, got %s", e.ID())
	}
	if e.Dimensions() != 4 {
		t.Errorf("Dimensions=%d", e.Dimensions())
	}
}
