package imagegen

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

const defaultImageModel = "imagen-4.0-generate-001"

// Gemini generates images with Imagen models through the genai client.
type Gemini struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

// NewGemini wraps an existing genai client.
func NewGemini(client *genai.Client, model string, logger zerolog.Logger) *Gemini {
	if model == "" {
		model = defaultImageModel
	}
	return &Gemini{
		client: client,
		model:  model,
		logger: logger.With().Str("component", "imagegen.gemini").Logger(),
	}
}

// ModelID implements Generator.
func (g *Gemini) ModelID() string { return g.model }

// Generate implements Generator. It requests a single PNG.
func (g *Gemini) Generate(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return nil, serrors.Unavailable("image", err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 {
		return nil, serrors.Unavailable("image", fmt.Errorf("model %s returned no images", g.model))
	}
	img := resp.GeneratedImages[0]
	if img.Image == nil || len(img.Image.ImageBytes) == 0 {
		reason := img.RAIFilteredReason
		if reason == "" {
			reason = "empty image payload"
		}
		return nil, serrors.Unavailable("image", fmt.Errorf("model %s: %s", g.model, reason))
	}

	g.logger.Debug().Str("model", g.model).Int("bytes", len(img.Image.ImageBytes)).Msg("Image generated")
	return img.Image.ImageBytes, nil
}
