// Package search provides the query service: semantic or hybrid search.
package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kurosawa/tansaku/internal/config"
	"github.com/kurosawa/tansaku/internal/keyword"
	"github.com/kurosawa/tansaku/internal/models"
)

// Semantic answers embedding-similarity queries, typically the index manager.
type Semantic interface {
	Search(ctx context.Context, queryText string, k int) ([]models.ScoredChunk, error)
}

// ChunkSource looks up indexed chunk content for hits that only the keyword
// side produced.
type ChunkSource interface {
	Record(chunkID string) (models.Record, bool)
}

// Engine runs semantic and hybrid search against the live index.
type Engine struct {
	semantic     Semantic
	keywordIndex keyword.Index
	chunks       ChunkSource
	config       *config.SearchConfig
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(semantic Semantic, keywordIndex keyword.Index, chunks ChunkSource, cfg *config.SearchConfig) *Engine {
	return &Engine{
		semantic:     semantic,
		keywordIndex: keywordIndex,
		chunks:       chunks,
		config:       cfg,
	}
}

// Search runs the query and returns ranked results. Hybrid fusion is used
// when the query asks for it and the engine has it enabled; otherwise the
// semantic path alone answers.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if query.Limit <= 0 {
		query.Limit = e.config.DefaultLimit
	}
	if e.config.MaxLimit > 0 && query.Limit > e.config.MaxLimit {
		query.Limit = e.config.MaxLimit
	}

	if query.Hybrid && e.config.HybridEnabled && e.keywordIndex != nil {
		return e.searchHybrid(ctx, query, startTime)
	}
	return e.searchSemantic(ctx, query, startTime)
}

// searchSemantic returns chunk-level results from similarity alone.
func (e *Engine) searchSemantic(ctx context.Context, query *models.SearchQuery, startTime time.Time) (*models.SearchResponse, error) {
	hits, err := e.semantic.Search(ctx, query.Query, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}
	response := &models.SearchResponse{
		Results:   make([]*models.SearchResult, 0, len(hits)),
		Total:     len(hits),
		QueryTime: time.Since(startTime).Milliseconds(),
		Query:     query.Query,
	}
	for _, hit := range hits {
		response.Results = append(response.Results, &models.SearchResult{
			DocumentID:    hit.DocumentID,
			ChunkID:       hit.ChunkID,
			Content:       hit.Content,
			Score:         hit.Score,
			SemanticScore: hit.Score,
		})
	}
	return response, nil
}

// searchHybrid runs keyword and semantic retrieval in parallel and fuses
// the scores at document level.
func (e *Engine) searchHybrid(ctx context.Context, query *models.SearchQuery, startTime time.Time) (*models.SearchResponse, error) {
	var (
		keywordResults  []*keyword.Result
		semanticResults []models.ScoredChunk
		errChan         = make(chan error, 2)
		wg              sync.WaitGroup
	)

	if e.config.KeywordWeight > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := e.keywordIndex.Search(ctx, query.Query, e.config.TopKCandidates)
			if err != nil {
				errChan <- fmt.Errorf("keyword search failed: %w", err)
				return
			}
			keywordResults = results
		}()
	}

	if e.config.SemanticWeight > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := e.semantic.Search(ctx, query.Query, e.config.TopKCandidates)
			if err != nil {
				errChan <- fmt.Errorf("semantic search failed: %w", err)
				return
			}
			semanticResults = results
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	keywordScores := NormalizeKeywordScores(keywordResults)
	semanticScores := NormalizeSemanticScores(semanticResults)
	fused := Fuse(keywordScores, semanticScores, e.config.KeywordWeight, e.config.SemanticWeight)
	total := len(fused)
	if len(fused) > query.Limit {
		fused = fused[:query.Limit]
	}

	response := &models.SearchResponse{
		Results:   make([]*models.SearchResult, 0, len(fused)),
		Total:     total,
		QueryTime: time.Since(startTime).Milliseconds(),
		Query:     query.Query,
	}
	for _, f := range fused {
		content := ""
		if rec, ok := e.chunks.Record(f.BestChunkID); ok {
			content = rec.Content
		}
		response.Results = append(response.Results, &models.SearchResult{
			DocumentID:    f.DocumentID,
			ChunkID:       f.BestChunkID,
			Content:       content,
			Score:         f.Score,
			KeywordScore:  f.KeywordScore,
			SemanticScore: f.SemanticScore,
		})
	}
	return response, nil
}
