package llm

import (
	"context"
	"fmt"
	"strings"
)

// TemplateProvider is a deterministic stand-in for a real model. It echoes the
// prompt under a header, which keeps local runs and tests reproducible.
type TemplateProvider struct {
	style string
}

// NewTemplateProvider creates the stub; style names the output format in the
// header, "markdown" by default.
func NewTemplateProvider(style string) *TemplateProvider {
	if style == "" {
		style = "markdown"
	}
	return &TemplateProvider{style: style}
}

// ModelID implements Provider.
func (p *TemplateProvider) ModelID() string { return "template:" + p.style }

// Complete implements Provider.
func (p *TemplateProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var body []string
	for _, m := range req.Messages {
		if m.Role == RoleUser {
			body = append(body, strings.TrimSpace(m.Content))
		}
	}
	text := fmt.Sprintf("# %s のサンプル出力\n\n%s\n\n- 使用温度: %.1f",
		p.style, strings.Join(body, "\n\n"), req.Temperature)
	return &CompletionResponse{Text: text, StopReason: StopReasonEndTurn}, nil
}
