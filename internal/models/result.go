package models

import "fmt"

// ScoredChunk is a single semantic search hit.
type ScoredChunk struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// SkippedDocument records a document that could not be indexed during a
// build pass, with the reason. Skipped documents are retried on the next
// maintenance pass.
type SkippedDocument struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}

// BuildResult summarizes a full index build. Per-document failures are
// accumulated here rather than aborting the build.
type BuildResult struct {
	BuildID          string            `json:"build_id"`
	ChunkCount       int               `json:"chunk_count"`
	DocumentCount    int               `json:"document_count"`
	SkippedDocuments []SkippedDocument `json:"skipped_documents,omitempty"`
	DurationMillis   int64             `json:"duration_ms"`
}

// IndexStats is a read-only view of the current index.
type IndexStats struct {
	ChunkCount    int    `json:"chunk_count"`
	DocumentCount int    `json:"document_count"`
	BackendID     string `json:"backend_id"`
	State         string `json:"state"`
}

// SearchQuery is a search request against the query service.
type SearchQuery struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
	Hybrid bool   `json:"hybrid,omitempty"`
}

// Validate checks the query. Limit defaulting and capping are the search
// engine's job, driven by its configuration.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	return nil
}

// SearchResult is a single hit returned by the query service. For hybrid
// searches the keyword and semantic components are reported alongside the
// fused score.
type SearchResult struct {
	DocumentID    string  `json:"document_id"`
	ChunkID       string  `json:"chunk_id,omitempty"`
	Content       string  `json:"content,omitempty"`
	Score         float64 `json:"score"`
	KeywordScore  float64 `json:"keyword_score,omitempty"`
	SemanticScore float64 `json:"semantic_score,omitempty"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
}
