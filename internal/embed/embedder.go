// Package embed turns text into fixed-length vectors for similarity search.
// A learned model is used when one is configured and reachable; otherwise a
// deterministic hashing fallback keeps the pipeline operable.
package embed

import (
	"context"
	"crypto/sha256"
	"log"
	"math"
)

// DefaultDimension matches the all-MiniLM family of sentence encoders.
const DefaultDimension = 384

// Backend identifies which embedding capability was resolved at startup.
type Backend string

const (
	BackendModel   Backend = "model"
	BackendHashing Backend = "hashing_fallback"
)

// Embedder generates vector embeddings from text. Implementations never fail
// outward: on any model error they degrade to a deterministic fallback, so
// the same text always yields a usable vector.
type Embedder interface {
	// Embed returns a vector of exactly Dimension() elements.
	Embed(ctx context.Context, text string) []float32

	// Dimension returns the dimensionality of the output vectors.
	Dimension() int
}

// HashingEmbedder derives vectors purely from a cryptographic digest of the
// input. The result carries no semantic meaning; it exists so ingestion,
// search and tests work without model weights.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder builds a fallback embedder with the given dimension,
// or DefaultDimension when dim is not positive.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashingEmbedder{dim: dim}
}

func (h *HashingEmbedder) Dimension() int { return h.dim }

// Embed hashes the UTF-8 text, tiles the digest bytes to the configured
// dimension and L2-normalizes the result. Empty text is substituted with a
// single space so the digest is never degenerate; a zero norm falls back to
// divisor 1.0.
func (h *HashingEmbedder) Embed(_ context.Context, text string) []float32 {
	if text == "" {
		text = " "
	}
	digest := sha256.Sum256([]byte(text))

	vec := make([]float32, h.dim)
	for i := range vec {
		vec[i] = float32(digest[i%len(digest)])
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		norm = 1.0
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Config selects the embedding backend.
type Config struct {
	Disabled  bool
	Model     string
	BaseURL   string
	Dimension int
}

// Resolve decides the embedding capability once at startup and returns the
// embedder to use for the remainder of the process lifetime. A disabled or
// unconfigured model resolves to the hashing fallback with a logged warning;
// resolution itself never fails.
func Resolve(cfg Config, logger *log.Logger) (Embedder, Backend) {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}
	fallback := NewHashingEmbedder(dim)

	if cfg.Disabled {
		logger.Printf("warn: embeddings disabled by configuration; using hashing fallback")
		return fallback, BackendHashing
	}
	if cfg.Model == "" {
		logger.Printf("warn: no embedding model configured; using hashing fallback")
		return fallback, BackendHashing
	}
	client := NewOllamaEmbedClient(cfg.BaseURL)
	logger.Printf("embedding model %q via %s", cfg.Model, client.baseURL)
	return &ModelEmbedder{client: client, model: cfg.Model, fallback: fallback, logger: logger}, BackendModel
}
