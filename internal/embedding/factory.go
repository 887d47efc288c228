package embedding

import (
	"fmt"
	"os"
	"time"

	"github.com/kurosawa/tansaku/internal/config"
	"go.uber.org/zap"
)

// BackendType selects the embedding backend implementation.
type BackendType string

const (
	// BackendHTTP is a remote service speaking the {input, model} ->
	// {data:[{embedding,index}]} contract. Default.
	BackendHTTP BackendType = "http"
	// BackendONNX is a local ONNX model. Requires CGO and onnxruntime.
	BackendONNX BackendType = "onnx"
	// BackendMock is the deterministic test embedder.
	BackendMock BackendType = "mock"
)

// NewEmbedder creates the embedder selected by cfg.Backend. The HTTP backend
// is wrapped with an LRU cache when cfg.CacheSize > 0; the ONNX backend
// caches internally.
func NewEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	switch BackendType(cfg.Backend) {
	case BackendHTTP, "":
		var opts []HTTPOption
		if logger != nil {
			opts = append(opts, WithHTTPLogger(logger))
		}
		e, err := NewHTTPEmbedder(HTTPConfig{
			Endpoint:     cfg.Endpoint,
			Model:        cfg.Model,
			APIKey:       os.Getenv(cfg.APIKeyEnv),
			Timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
			MaxBatchSize: cfg.MaxBatchSize,
			MaxRetries:   cfg.MaxRetries,
			Dimensions:   cfg.Dimensions,
		}, opts...)
		if err != nil {
			return nil, err
		}
		if cfg.CacheSize > 0 {
			return NewCachedEmbedder(e, cfg.CacheSize), nil
		}
		return e, nil
	case BackendONNX:
		return NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, cfg.CacheSize)
	case BackendMock:
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s (supported: http, onnx, mock)", cfg.Backend)
	}
}
