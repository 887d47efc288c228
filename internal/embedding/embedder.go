// Package embedding provides text embedding via a remote HTTP backend or a
// local ONNX model, plus caching.
package embedding

import (
	"context"
	"errors"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one embedding per input text, in input order.
	// It fails the whole batch atomically: on error no vectors are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int
	// ID identifies the backend and model. Vectors from different IDs are
	// not comparable; a change of ID invalidates every persisted vector.
	ID() string
	Close() error
}

// Error kinds for embedding failures. BackendUnavailable and 5xx statuses
// are retried with backoff before surfacing; the rest are surfaced
// immediately and the affected batch is dropped for the current pass.
var (
	// ErrBackendUnavailable is a network, connection, or timeout failure.
	ErrBackendUnavailable = errors.New("embedding: backend unavailable")
	// ErrBackendStatus is a non-success HTTP status from the backend.
	ErrBackendStatus = errors.New("embedding: backend returned error status")
	// ErrResponseInvalid is a malformed or undecodable response body.
	ErrResponseInvalid = errors.New("embedding: invalid backend response")
	// ErrBatchMismatch means the response length or indices do not match the
	// request; callers cannot correlate vectors positionally.
	ErrBatchMismatch = errors.New("embedding: response does not match request batch")
)

// IsRetryable reports whether err is worth retrying against the backend.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
