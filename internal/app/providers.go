package app

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/p-blackswan/studio-agent/internal/blob"
	"github.com/p-blackswan/studio-agent/internal/config"
	"github.com/p-blackswan/studio-agent/internal/imagegen"
	"github.com/p-blackswan/studio-agent/internal/llm"
	"github.com/p-blackswan/studio-agent/internal/queue"
	"github.com/p-blackswan/studio-agent/internal/search"
)

// genaiClient returns the shared Gemini API client, creating it on first use.
func (a *App) genaiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if a.genai != nil {
		return a.genai, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	a.genai = client
	return client, nil
}

func (a *App) newBlobStore(ctx context.Context) (blob.Store, error) {
	cfg := a.Config
	switch cfg.Storage() {
	case config.StorageGCS:
		g, err := blob.NewGCS(ctx, cfg.GCSBucket, cfg.GCSBasePath, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	default:
		return blob.NewLocal(cfg.LocalStorageRoot, a.logger)
	}
}

func (a *App) newQueue(ctx context.Context) (queue.Queue, error) {
	cfg := a.Config
	switch cfg.Queue() {
	case config.QueueCloudTasks:
		q, err := queue.NewCloudTasks(ctx, queue.CloudTasksConfig{
			Project:             cfg.TasksProject(),
			Location:            cfg.TasksLocation(),
			QueueID:             cfg.CloudTasksQueueID,
			TargetURL:           cfg.CloudTasksTargetURL,
			ServiceAccountEmail: cfg.CloudTasksServiceAccountEmail,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, q.Close)
		return q, nil
	default:
		return queue.NewMemory(a.logger), nil
	}
}

func (a *App) newIndex(ctx context.Context) (search.Index, error) {
	cfg := a.Config
	if cfg.Search() != config.SearchEmbedding {
		return search.NewSubstring(), nil
	}

	var embedder search.Embedder
	switch cfg.Embedder {
	case config.EmbedderHTTP:
		e, err := search.NewHTTPEmbedder(search.HTTPEmbedderConfig{
			Endpoint:   cfg.EmbedderEndpoint,
			APIKey:     cfg.EmbedderAPIKey,
			Model:      cfg.EmbedderModel,
			Dimensions: cfg.EmbedderDimensions,
			Timeout:    cfg.BackendTimeout,
		})
		if err != nil {
			return nil, err
		}
		embedder = e
	default:
		client, err := a.genaiClient(ctx, cfg.EmbedderKey())
		if err != nil {
			return nil, err
		}
		embedder = search.NewGenAIEmbedder(client, cfg.EmbedderModel, cfg.EmbedderDimensions)
	}
	return search.NewEmbeddingIndex(embedder, cfg.BackendTimeout, a.logger), nil
}

func (a *App) newTextProvider(ctx context.Context) (llm.Provider, error) {
	cfg := a.Config
	var p llm.Provider
	switch cfg.LLM() {
	case config.LLMGemini:
		client, err := a.genaiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		p = llm.NewGeminiProvider(client, cfg.LLMModel, cfg.LLMMaxTokens, a.logger)
	case config.LLMAnthropic:
		opts := []llm.AnthropicOption{llm.WithMaxTokens(cfg.LLMMaxTokens), llm.WithLogger(a.logger)}
		if cfg.LLMModel != "" {
			opts = append(opts, llm.WithModel(cfg.LLMModel))
		}
		p = llm.NewAnthropicProvider(cfg.AnthropicAPIKey, opts...)
	default:
		return llm.NewTemplateProvider(cfg.LLMOutputStyle), nil
	}
	return llm.WithTimeout(p, cfg.BackendTimeout), nil
}

func (a *App) newImageGenerator(ctx context.Context) (imagegen.Generator, error) {
	cfg := a.Config
	if cfg.Image() != config.ImageGemini {
		return imagegen.NewPlaceholder(a.logger), nil
	}
	client, err := a.genaiClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, err
	}
	return imagegen.WithTimeout(imagegen.NewGemini(client, cfg.ImageModel, a.logger), cfg.BackendTimeout), nil
}
