// Package search provides hybrid search (keyword + semantic) and result fusion.
package search

import (
	"sort"

	"github.com/kurosawa/tansaku/internal/keyword"
	"github.com/kurosawa/tansaku/internal/models"
)

// FusedResult holds a document ID, fused score components, and the chunk
// that contributed the strongest evidence.
type FusedResult struct {
	DocumentID    string
	BestChunkID   string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// docScore pairs a per-document score with the chunk that produced it.
type docScore struct {
	score   float64
	chunkID string
}

// NormalizeKeywordScores aggregates chunk hits per document (max) and
// min-max normalizes the scores to [0,1]. A single candidate maps to 1.
func NormalizeKeywordScores(results []*keyword.Result) map[string]docScore {
	byDoc := make(map[string]docScore)
	for _, r := range results {
		if s, ok := byDoc[r.DocumentID]; !ok || r.Score > s.score {
			byDoc[r.DocumentID] = docScore{score: r.Score, chunkID: r.ChunkID}
		}
	}
	return minMaxNormalize(byDoc)
}

// NormalizeSemanticScores aggregates chunk scores per document (max) and
// min-max normalizes them to [0,1].
func NormalizeSemanticScores(results []models.ScoredChunk) map[string]docScore {
	byDoc := make(map[string]docScore)
	for _, r := range results {
		if s, ok := byDoc[r.DocumentID]; !ok || r.Score > s.score {
			byDoc[r.DocumentID] = docScore{score: r.Score, chunkID: r.ChunkID}
		}
	}
	return minMaxNormalize(byDoc)
}

func minMaxNormalize(scores map[string]docScore) map[string]docScore {
	if len(scores) == 0 {
		return scores
	}
	var minScore, maxScore float64
	first := true
	for _, s := range scores {
		if first {
			minScore, maxScore = s.score, s.score
			first = false
			continue
		}
		if s.score < minScore {
			minScore = s.score
		}
		if s.score > maxScore {
			maxScore = s.score
		}
	}
	span := maxScore - minScore
	out := make(map[string]docScore, len(scores))
	for id, s := range scores {
		if span > 0 {
			s.score = (s.score - minScore) / span
		} else {
			s.score = 1
		}
		out[id] = s
	}
	return out
}

// Fuse merges keyword and semantic document scores with weights and returns
// results sorted by fused score, ties broken by document ID for stable
// ordering.
func Fuse(keywordScores, semanticScores map[string]docScore, keywordWeight, semanticWeight float64) []*FusedResult {
	scoreMap := make(map[string]*FusedResult)
	for id, s := range keywordScores {
		scoreMap[id] = &FusedResult{
			DocumentID:   id,
			BestChunkID:  s.chunkID,
			KeywordScore: s.score,
		}
	}
	for id, s := range semanticScores {
		if result, exists := scoreMap[id]; exists {
			result.SemanticScore = s.score
			// Prefer the semantic chunk as the representative hit.
			result.BestChunkID = s.chunkID
		} else {
			scoreMap[id] = &FusedResult{
				DocumentID:    id,
				BestChunkID:   s.chunkID,
				SemanticScore: s.score,
			}
		}
	}
	results := make([]*FusedResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.Score = (keywordWeight * result.KeywordScore) + (semanticWeight * result.SemanticScore)
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocumentID < results[j].DocumentID
	})
	return results
}
