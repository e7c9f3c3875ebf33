package dream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Params are the decoding parameters applied to every completion. They are
// fixed at load time; the generator never re-tunes them per call.
type Params struct {
	MaxNewTokens      int
	RepetitionPenalty float64
	Temperature       float64
	TopK              int
	TopP              float64
}

// DefaultParams match the generation settings the engine was tuned with.
var DefaultParams = Params{
	MaxNewTokens:      256,
	RepetitionPenalty: 1.15,
	Temperature:       0.8,
	TopK:              40,
	TopP:              0.9,
}

// Runner abstracts a local generative model backend.
type Runner interface {
	// Load prepares the backend for the model at modelPath. It is called
	// once at construction and blocks until the backend is usable.
	Load(ctx context.Context, modelPath string, params Params) error

	// Complete runs non-streaming inference for the prompt.
	Complete(ctx context.Context, prompt string) (string, error)
}

// runnerFor resolves a backend-library variant to a Runner, or nil when the
// variant is unknown.
func runnerFor(library, baseURL string) Runner {
	switch library {
	case "", "llama":
		return NewLlamaRunner(baseURL)
	default:
		return nil
	}
}

// LlamaRunner drives a llama.cpp server over its native HTTP API. The server
// owns the model file; Load verifies it is up and serving.
type LlamaRunner struct {
	baseURL string
	client  *http.Client
	params  Params
}

// NewLlamaRunner creates a client for a llama-server instance.
func NewLlamaRunner(baseURL string) *LlamaRunner {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &LlamaRunner{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Load records the decoding parameters and checks the server's health
// endpoint. A server still loading its model reports 503 and is treated as
// a load failure.
func (r *LlamaRunner) Load(ctx context.Context, modelPath string, params Params) error {
	r.params = params

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("model server unreachable at %s: %w", r.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model server not ready for %s (status %d)", modelPath, resp.StatusCode)
	}
	return nil
}

type llamaCompletionResponse struct {
	Content string `json:"content"`
}

// Complete posts a non-streaming completion request.
func (r *LlamaRunner) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":         prompt,
		"n_predict":      r.params.MaxNewTokens,
		"repeat_penalty": r.params.RepetitionPenalty,
		"temperature":    r.params.Temperature,
		"top_k":          r.params.TopK,
		"top_p":          r.params.TopP,
		"stream":         false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("completion API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result llamaCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	return result.Content, nil
}
