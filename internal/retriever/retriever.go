// Package retriever performs brute-force cosine top-k search over stored records.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kurosawa/tansaku/internal/models"
)

// Retriever scores records against a query vector. It holds no state of its
// own; record access goes through the RecordSource on every query so results
// always reflect the current index contents.
type Retriever struct {
	source RecordSource
}

// RecordSource supplies the candidate records for a query.
type RecordSource interface {
	Records() []models.Record
	Dimensions() int
}

// New creates a retriever over the given record source.
func New(source RecordSource) *Retriever {
	return &Retriever{source: source}
}

// TopK returns the k records most similar to the query vector, ordered by
// descending cosine similarity. Ties are broken by chunk ID so results are
// deterministic across runs. Fewer than k results are returned when the
// index holds fewer records.
func (r *Retriever) TopK(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if dims := r.source.Dimensions(); len(query) != dims {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), dims)
	}
	records := r.source.Records()
	if len(records) == 0 {
		return nil, nil
	}
	scored := make([]models.ScoredChunk, 0, len(records))
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scored = append(scored, models.ScoredChunk{
			DocumentID: records[i].DocumentID,
			ChunkID:    records[i].ChunkID,
			Content:    records[i].Content,
			Score:      CosineSimilarity(query, records[i].Vector),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ChunkID < scored[j].ChunkID
	})
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// CosineSimilarity returns the cosine similarity of two vectors. A zero
// vector on either side yields 0 rather than NaN.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
