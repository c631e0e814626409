package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/hyperjump/kura/internal/provider"
)

// GeminiVision sends images to a hosted Gemini model.
type GeminiVision struct {
	client *genai.Client
	model  *genai.GenerativeModel
	prompt string
}

// NewGeminiVision creates a client for modelName.
func NewGeminiVision(ctx context.Context, apiKey, modelName, prompt string) (*GeminiVision, error) {
	cl, err := provider.NewGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &GeminiVision{client: cl, model: cl.GenerativeModel(modelName), prompt: prompt}, nil
}

func (g *GeminiVision) ExtractText(ctx context.Context, image []byte, mime string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.ImageData(imageFormat(mime), image), genai.Text(g.prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	return b.String(), nil
}

// Release is a no-op: hosted models hold no local resources.
func (g *GeminiVision) Release(context.Context) error { return nil }

func (g *GeminiVision) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// imageFormat maps "image/png" to the "png" form genai.ImageData expects.
func imageFormat(mime string) string {
	if f, ok := strings.CutPrefix(mime, "image/"); ok && f != "" {
		return f
	}
	return "png"
}
