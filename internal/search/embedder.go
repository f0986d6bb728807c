package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"google.golang.org/genai"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

// Embedder converts text into a float32 embedding vector.
type Embedder interface {
	// Embed returns the embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the output vector length, 0 until known.
	Dimensions() int
}

// NoopEmbedder returns no vector, which routes every search to the substring
// fallback.
type NoopEmbedder struct{}

func (NoopEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return nil, nil }
func (NoopEmbedder) Dimensions() int                                       { return 0 }

// HTTPEmbedder calls an OpenAI-compatible embedding endpoint.
// Supports: OpenAI /v1/embeddings, Ollama /api/embeddings, any compatible API.
type HTTPEmbedder struct {
	endpoint   string
	apiKey     string
	model      string
	dimensions atomic.Int64
	client     *http.Client
}

// HTTPEmbedderConfig holds configuration for HTTPEmbedder.
type HTTPEmbedderConfig struct {
	// Endpoint is the full URL, e.g. "https://api.openai.com/v1/embeddings"
	// or "http://localhost:11434/api/embeddings" for Ollama.
	Endpoint string

	// APIKey is the Bearer token. May be empty for local models.
	APIKey string

	// Model name, e.g. "text-embedding-3-small" or "nomic-embed-text".
	Model string

	// Dimensions is the expected output size. 0 = auto-detect from first call.
	Dimensions int

	// Timeout for each HTTP request. Default: 30s.
	Timeout time.Duration
}

// NewHTTPEmbedder creates an HTTPEmbedder from the given config.
func NewHTTPEmbedder(cfg HTTPEmbedderConfig) (*HTTPEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: embedder endpoint is required", serrors.ErrConfig)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	e := &HTTPEmbedder{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
	e.dimensions.Store(int64(cfg.Dimensions))
	return e, nil
}

// Dimensions returns the configured or detected output vector size.
func (e *HTTPEmbedder) Dimensions() int { return int(e.dimensions.Load()) }

// embeddingRequest sends both "input" (OpenAI) and "prompt" (Ollama).
type embeddingRequest struct {
	Model  string `json:"model"`
	Input  string `json:"input"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	// Ollama returns embedding directly at top level.
	Embedding []float32 `json:"embedding"`
}

// Embed calls the HTTP endpoint and returns the embedding vector.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, serrors.Unavailable("embedder", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, serrors.NewAPIError("embedder", resp.StatusCode, string(raw))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedder: decode: %w", err)
	}

	var vec []float32
	switch {
	case len(parsed.Data) > 0:
		vec = parsed.Data[0].Embedding
	case len(parsed.Embedding) > 0:
		vec = parsed.Embedding
	default:
		return nil, fmt.Errorf("embedder: no embedding in response")
	}

	e.dimensions.CompareAndSwap(0, int64(len(vec)))
	return vec, nil
}

// DefaultGenAIEmbeddingModel is used when no model is configured.
const DefaultGenAIEmbeddingModel = "gemini-embedding-001"

// GenAIEmbedder embeds text with the Gemini embeddings API.
type GenAIEmbedder struct {
	client     *genai.Client
	model      string
	dimensions atomic.Int64
}

// NewGenAIEmbedder wraps an existing genai client.
func NewGenAIEmbedder(client *genai.Client, model string, dimensions int) *GenAIEmbedder {
	if model == "" {
		model = DefaultGenAIEmbeddingModel
	}
	e := &GenAIEmbedder{client: client, model: model}
	e.dimensions.Store(int64(dimensions))
	return e
}

// Dimensions returns the configured or detected output vector size.
func (e *GenAIEmbedder) Dimensions() int { return int(e.dimensions.Load()) }

// Embed implements Embedder.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var cfg *genai.EmbedContentConfig
	if d := e.dimensions.Load(); d > 0 {
		dims := int32(d)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, serrors.Unavailable("embedder", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embedder: no embedding in response")
	}
	vec := resp.Embeddings[0].Values
	e.dimensions.CompareAndSwap(0, int64(len(vec)))
	return vec, nil
}
