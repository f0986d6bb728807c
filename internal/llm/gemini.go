package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider implements Provider with the Gemini API.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
	logger    zerolog.Logger
}

// NewGeminiProvider wraps an existing genai client.
func NewGeminiProvider(client *genai.Client, model string, maxTokens int, logger zerolog.Logger) *GeminiProvider {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With().Str("component", "llm.gemini").Logger(),
	}
}

// ModelID implements Provider.
func (p *GeminiProvider) ModelID() string { return p.model }

// Complete implements Provider.
func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if n := req.MaxTokens; n > 0 {
		cfg.MaxOutputTokens = int32(n)
	} else if p.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.maxTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, serrors.Unavailable("gemini", err)
	}

	out := &CompletionResponse{Text: resp.Text(), StopReason: StopReasonEndTurn}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		out.StopReason = StopReasonMaxTokens
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if out.Text == "" {
		return nil, serrors.Unavailable("gemini", fmt.Errorf("model %s returned no text", model))
	}

	p.logger.Debug().
		Str("model", model).
		Str("stop_reason", out.StopReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("gemini complete")
	return out, nil
}
