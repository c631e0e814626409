// Package embedding produces vector embeddings for chunk text through a model provider,
// with caching and rate-limit retry.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/kura/internal/config"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

// Releaser is implemented by embedders that keep a model loaded between calls.
type Releaser interface {
	Release(ctx context.Context) error
}

// New builds the embedder selected by cfg.Provider.
func New(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case config.ProviderGemini:
		return NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions)
	case config.ProviderMock:
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
