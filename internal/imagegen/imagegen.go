// Package imagegen turns a finished prompt into image bytes.
package imagegen

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/rs/zerolog"
)

// Generator produces image bytes for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
	ModelID() string
}

// PlaceholderPrefix marks bytes produced by Placeholder.
const PlaceholderPrefix = "PLACEHOLDER_IMAGE:"

// Placeholder returns a small deterministic payload derived from the prompt.
// It is used for local development and tests.
type Placeholder struct {
	logger zerolog.Logger
}

// NewPlaceholder creates the placeholder generator.
func NewPlaceholder(logger zerolog.Logger) *Placeholder {
	return &Placeholder{logger: logger.With().Str("component", "imagegen.placeholder").Logger()}
}

// ModelID implements Generator.
func (p *Placeholder) ModelID() string { return "placeholder" }

// Generate implements Generator.
func (p *Placeholder) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.logger.Debug().Int("prompt_len", len(prompt)).Msg("Generating placeholder image")
	return []byte(PlaceholderPrefix + base64.StdEncoding.EncodeToString([]byte(prompt))), nil
}

// WithTimeout bounds every Generate call made through g.
func WithTimeout(g Generator, d time.Duration) Generator {
	if d <= 0 {
		return g
	}
	return &timeoutGenerator{Generator: g, timeout: d}
}

type timeoutGenerator struct {
	Generator
	timeout time.Duration
}

func (t *timeoutGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Generator.Generate(ctx, prompt)
}
