package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Default HTTP client settings.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBatchSize = 64
	DefaultMaxRetries   = 3
	retryBaseDelay      = 200 * time.Millisecond
	retryMaxDelay       = 5 * time.Second
)

// Known model dimensionalities, used when the config does not set one.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"all-minilm":             384,
	"mxbai-embed-large":      1024,
}

// HTTPConfig configures the remote embedding client. Endpoint is the full
// URL of the embeddings endpoint of any backend speaking the generic
// {input, model} -> {data:[{embedding,index}]} contract.
type HTTPConfig struct {
	Endpoint     string
	Model        string
	APIKey       string
	Timeout      time.Duration
	MaxBatchSize int
	MaxRetries   int
	Dimensions   int
}

// HTTPEmbedder is an embedding client for a remote HTTP backend. Requests
// are batched up to MaxBatchSize texts per call; transient failures are
// retried with exponential backoff.
type HTTPEmbedder struct {
	endpoint     string
	model        string
	apiKey       string
	maxBatchSize int
	maxRetries   int
	dimensions   int
	client       *http.Client
	logger       *zap.Logger // optional; when set, logs retries and batches
}

// HTTPOption configures an HTTPEmbedder.
type HTTPOption func(*HTTPEmbedder)

// WithHTTPLogger sets a logger for debug output (retries, batch sizes).
func WithHTTPLogger(l *zap.Logger) HTTPOption {
	return func(e *HTTPEmbedder) { e.logger = l }
}

// NewHTTPEmbedder creates a remote embedding client. Endpoint and Model are
// required; Dimensions is taken from the config when set, otherwise from
// the known-model table.
func NewHTTPEmbedder(cfg HTTPConfig, opts ...HTTPOption) (*HTTPEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = modelDimensions[cfg.Model]
	}
	if dims <= 0 {
		return nil, fmt.Errorf("embedding dimensions unknown for model %q; set dimensions in config", cfg.Model)
	}
	e := &HTTPEmbedder{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		maxBatchSize: cfg.MaxBatchSize,
		maxRetries:   cfg.MaxRetries,
		dimensions:   dims,
		client:       &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// embedRequest is the wire request format.
type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// embedResponse is the wire response format.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// ID returns the backend identifier for vectors produced by this client.
func (e *HTTPEmbedder) ID() string {
	return "http/" + e.model
}

// Dimensions returns the embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dimensions
}

// Embed returns the embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in input order, splitting the input into requests
// of at most MaxBatchSize texts. A failure of any request fails the whole
// call; no partial results are returned.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.maxBatchSize {
		end := start + e.maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embedOnce sends one request, retrying transient failures with backoff.
func (e *HTTPEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			if e.logger != nil {
				e.logger.Debug("embedding retry",
					zap.Int("attempt", attempt), zap.Int("batch", len(texts)), zap.Error(lastErr))
			}
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, ctx.Err())
			case <-time.After(retryDelay(attempt - 1)):
			}
		}
		vecs, err := e.doRequest(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (e *HTTPEmbedder) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBackendUnavailable, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		// Transient statuses behave like an unavailable backend.
		return nil, fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrBackendStatus, resp.StatusCode, truncateBody(payload))
	}

	var decoded embedResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, got %d embeddings", ErrBatchMismatch, len(texts), len(decoded.Data))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrBatchMismatch, d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("%w: embedding has %d dimensions, expected %d", ErrResponseInvalid, len(d.Embedding), e.dimensions)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("%w: no embedding for input %d", ErrBatchMismatch, i)
		}
	}
	return vecs, nil
}

// Close is a no-op for HTTPEmbedder.
func (e *HTTPEmbedder) Close() error {
	return nil
}

// retryDelay returns the backoff delay for the given zero-based attempt:
// 200ms doubling per attempt, capped at 5s.
func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := retryBaseDelay << attempt
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
