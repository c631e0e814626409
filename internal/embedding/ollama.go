package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/ollama/ollama/api"

	"github.com/hyperjump/kura/internal/provider"
)

// OllamaEmbedder embeds text with a model served by Ollama.
type OllamaEmbedder struct {
	client     *api.Client
	model      string
	dimensions int
}

// NewOllamaEmbedder connects to the Ollama server at baseURL.
func NewOllamaEmbedder(baseURL, model string, dimensions int) (*OllamaEmbedder, error) {
	client, err := provider.NewOllamaClient(baseURL)
	if err != nil {
		return nil, err
	}
	return &OllamaEmbedder{client: client, model: model, dimensions: dimensions}, nil
}

func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embed(ctx, &api.EmbedRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embed (%s): %w", o.model, err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("ollama embed: no embeddings returned")
	}
	return resp.Embeddings[0], nil
}

func (o *OllamaEmbedder) Dimensions() int { return o.dimensions }

// Release unloads the model from server memory.
func (o *OllamaEmbedder) Release(ctx context.Context) error {
	_, err := o.client.Embed(ctx, &api.EmbedRequest{Model: o.model, KeepAlive: &api.Duration{Duration: 0}})
	if err != nil {
		return fmt.Errorf("ollama unload (%s): %w", o.model, err)
	}
	return nil
}

func (o *OllamaEmbedder) Close() error { return nil }
