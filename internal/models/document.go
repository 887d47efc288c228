// Package models defines core data structures for documents, chunks, embedding
// records, and search results.
package models

import (
	"fmt"
	"time"
)

// Document is a vault document as supplied by the document collaborator.
// Fingerprint changes if and only if Content changed.
type Document struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Fingerprint string `json:"fingerprint"`
}

// Chunk is a contiguous slice of a document's text, the unit of embedding
// and retrieval. Token offsets are whitespace-token indices into the
// document, half-open [StartToken, EndToken).
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Content    string `json:"content"`
	StartToken int    `json:"start_token"`
	EndToken   int    `json:"end_token"`
}

// ID returns the chunk identifier, deterministic for a given document and
// chunk index so re-chunking identical content yields identical IDs.
func (c *Chunk) ID() string {
	return ChunkID(c.DocumentID, c.Index)
}

// ChunkID builds a chunk identifier from a document ID and chunk index.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s#%d", docID, index)
}

// Record is an embedding record stored in the vector store: a chunk plus its
// vector and the document fingerprint the chunk was derived from.
type Record struct {
	ChunkID     string    `json:"chunk_id"`
	DocumentID  string    `json:"document_id"`
	ChunkIndex  int       `json:"chunk_index"`
	Content     string    `json:"content"`
	StartToken  int       `json:"start_token"`
	EndToken    int       `json:"end_token"`
	Fingerprint string    `json:"fingerprint"`
	Vector      []float32 `json:"-"`
}

// Snapshot is the persisted form of a vector store: every record plus the
// identity of the embedding backend that produced the vectors. A snapshot
// whose backend or dimensionality differs from the configured embedder is
// unusable as a whole.
type Snapshot struct {
	BackendID  string
	Dimensions int
	BuiltAt    time.Time
	Records    []Record
}
