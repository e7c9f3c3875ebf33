package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// OllamaEmbedClient talks to an Ollama-compatible native embedding API.
type OllamaEmbedClient struct {
	baseURL string
	client  *http.Client
}

// NewOllamaEmbedClient creates a client for the /api/embed endpoint. Both a
// bare host and a host with a /v1 suffix are accepted.
func NewOllamaEmbedClient(baseURL string) *OllamaEmbedClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	host := strings.TrimSuffix(baseURL, "/")
	host = strings.TrimSuffix(host, "/v1")
	return &OllamaEmbedClient{
		baseURL: host,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed requests an embedding for a single input.
func (c *OllamaEmbedClient) Embed(ctx context.Context, model, input string) ([]float64, error) {
	body, err := json.Marshal(map[string]any{"model": model, "input": input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings in response")
	}
	return result.Embeddings[0], nil
}

// ModelEmbedder uses a learned encoder over HTTP and degrades to the hashing
// fallback on any per-call failure, including a dimension mismatch between
// the model's output and the configured collection size.
type ModelEmbedder struct {
	client   *OllamaEmbedClient
	model    string
	fallback *HashingEmbedder
	logger   *log.Logger
}

func (m *ModelEmbedder) Dimension() int { return m.fallback.Dimension() }

func (m *ModelEmbedder) Embed(ctx context.Context, text string) []float32 {
	if text == "" {
		text = " "
	}
	raw, err := m.client.Embed(ctx, m.model, text)
	if err != nil {
		m.logger.Printf("warn: embedding model failed (%v); using hashing fallback", err)
		return m.fallback.Embed(ctx, text)
	}
	if len(raw) != m.fallback.Dimension() {
		m.logger.Printf("warn: model returned %d dimensions, expected %d; using hashing fallback", len(raw), m.fallback.Dimension())
		return m.fallback.Embed(ctx, text)
	}
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec
}
