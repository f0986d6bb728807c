// Package pipeline turns a template code plus project context into artifact
// content. Text templates take one text-backend call; images take two stages,
// a text call that writes the final prompt and an image call that renders it.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/studio-agent/internal/catalog"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/imagegen"
	"github.com/p-blackswan/studio-agent/internal/llm"
	"github.com/p-blackswan/studio-agent/internal/metrics"
)

const (
	// TextTemperature is used for every text template.
	TextTemperature = 0.3
	// ImagePromptTemperature is used when the text backend writes an image prompt.
	ImagePromptTemperature = 0.6

	// MaxPriorContext bounds the prior artifact content passed into prompts.
	MaxPriorContext = 1200

	// DefaultProjectName fills prompts for projects without a name.
	DefaultProjectName = "Untitled Project"

	ContentTypeMarkdown = "text/markdown"
	ContentTypePNG      = "image/png"
)

// Context is the project state a generation sees.
type Context struct {
	ProjectName        string
	ProjectDescription string
	Episode            *int
	Instructions       string
	ExistingSummary    string
}

// Fields returns the placeholder values for the prompt templates.
func (c Context) Fields() map[string]string {
	name := c.ProjectName
	if name == "" {
		name = DefaultProjectName
	}
	number := 1
	label := "Main"
	if c.Episode != nil {
		number = *c.Episode
		label = "Episode " + strconv.Itoa(*c.Episode)
	}
	return map[string]string{
		"project_name":        name,
		"project_description": c.ProjectDescription,
		"instructions":        c.Instructions,
		"existing_summary":    Truncate(c.ExistingSummary, MaxPriorContext),
		"episode_number":      strconv.Itoa(number),
		"episode_label":       label,
	}
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Request asks for one artifact body.
type Request struct {
	Template catalog.Code
	Context  Context
}

// Result is the generated content.
type Result struct {
	Content     []byte
	ContentType string
	Metadata    map[string]string
}

// Pipeline dispatches requests to the text or image variant.
type Pipeline struct {
	prompts *Prompts
	text    llm.Provider
	images  imagegen.Generator
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a Pipeline. m may be nil.
func New(prompts *Prompts, text llm.Provider, images imagegen.Generator, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &Pipeline{
		prompts: prompts,
		text:    text,
		images:  images,
		metrics: m,
		logger:  logger.With().Str("component", "pipeline").Logger(),
	}
}

// Generate produces content for req. Backend errors are returned unchanged.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Result, error) {
	tmpl, ok := catalog.Lookup(req.Template)
	if !ok {
		return nil, catalog.Validate(req.Template)
	}

	start := time.Now()
	var (
		res *Result
		err error
	)
	switch tmpl.Media {
	case catalog.MediaImage:
		res, err = p.generateImage(ctx, req)
	default:
		res, err = p.generateText(ctx, req)
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	elapsed := time.Since(start)
	p.metrics.ObserveGeneration(string(req.Template), outcome, elapsed.Seconds())

	if err != nil {
		p.logger.Warn().Err(err).Str("template", string(req.Template)).Dur("elapsed", elapsed).Msg("Generation failed")
		return nil, err
	}
	p.logger.Info().
		Str("template", string(req.Template)).
		Str("content_type", res.ContentType).
		Int("bytes", len(res.Content)).
		Dur("elapsed", elapsed).
		Msg("Generation complete")
	return res, nil
}

func (p *Pipeline) generateText(ctx context.Context, req Request) (*Result, error) {
	tmpl, ok := p.prompts.Text[req.Template]
	if !ok {
		return nil, serrors.Invalid("template_code", fmt.Sprintf("no text prompt for %s", req.Template))
	}
	prompt := Render(tmpl, req.Context.Fields())
	text, err := llm.Generate(ctx, p.text, prompt, TextTemperature)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", req.Template, err)
	}
	return &Result{
		Content:     []byte(text),
		ContentType: ContentTypeMarkdown,
		Metadata: map[string]string{
			"prompt": prompt,
			"model":  p.text.ModelID(),
		},
	}, nil
}

func (p *Pipeline) generateImage(ctx context.Context, req Request) (*Result, error) {
	seed := Render(p.prompts.Image, req.Context.Fields())
	prompt, err := llm.Generate(ctx, p.text, seed, ImagePromptTemperature)
	if err != nil {
		return nil, fmt.Errorf("generate %s prompt: %w", req.Template, err)
	}
	data, err := p.images.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate %s image: %w", req.Template, err)
	}
	return &Result{
		Content:     data,
		ContentType: ContentTypePNG,
		Metadata: map[string]string{
			"prompt": prompt,
			"model":  p.images.ModelID(),
		},
	}, nil
}
