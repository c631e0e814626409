package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"

	"github.com/hyperjump/kura/internal/provider"
)

// GeminiEmbedder embeds text with a hosted Gemini embedding model.
type GeminiEmbedder struct {
	client     *genai.Client
	model      *genai.EmbeddingModel
	dimensions int
}

// NewGeminiEmbedder creates a client for modelName.
func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, dimensions int) (*GeminiEmbedder, error) {
	cl, err := provider.NewGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	em := cl.EmbeddingModel(modelName)
	em.TaskType = genai.TaskTypeRetrievalDocument
	return &GeminiEmbedder{client: cl, model: em, dimensions: dimensions}, nil
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := g.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("gemini embed: empty embedding")
	}
	return res.Embedding.Values, nil
}

func (g *GeminiEmbedder) Dimensions() int { return g.dimensions }

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
