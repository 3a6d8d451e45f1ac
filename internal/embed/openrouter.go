package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is OpenRouter's OpenAI-compatible embeddings endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1/embeddings"

// OpenRouter is an Embedder backed by a remote embeddings API, called over
// plain net/http (the vault runs as a local daemon/CLI, not in a browser,
// so there is no fetch/syscall-js transport to adapt).
type OpenRouter struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// Config configures an OpenRouter embedder.
type Config struct {
	APIKey  string
	Model   string // e.g. "openai/text-embedding-3-small"
	BaseURL string // defaults to DefaultBaseURL
	Client  *http.Client
}

// New returns an OpenRouter-backed Embedder.
func New(cfg Config) *OpenRouter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &OpenRouter{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: baseURL,
		client:  client,
	}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Embed requests a single embedding vector for text.
func (c *OpenRouter) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embed: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embed: read response: %w", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}

	if parsed.Error != nil {
		return nil, fmt.Errorf("embed: provider error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}

	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, errors.New("embed: empty embedding in response")
	}

	return parsed.Data[0].Embedding, nil
}
