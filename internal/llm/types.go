// Package llm defines the text-generation provider interface and its
// implementations. Providers are interchangeable behind this interface.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StopReason describes why the LLM stopped generating.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
)

// Message is a single turn in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a provider's Complete() call.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Model        string // override provider default if set
}

// CompletionResponse is returned by Complete().
type CompletionResponse struct {
	Text         string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Provider is the core abstraction for language model backends.
// Implementations: TemplateProvider, GeminiProvider, AnthropicProvider.
type Provider interface {
	// Complete sends a completion request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the current model identifier string.
	ModelID() string
}

// Generate sends prompt as a single user turn and returns the text.
func Generate(ctx context.Context, p Provider, prompt string, temperature float64) (string, error) {
	resp, err := p.Complete(ctx, CompletionRequest{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%s returned an empty completion", p.ModelID())
	}
	return text, nil
}

// WithTimeout bounds every Complete call made through p.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{Provider: p, timeout: d}
}

type timeoutProvider struct {
	Provider
	timeout time.Duration
}

func (t *timeoutProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Provider.Complete(ctx, req)
}
