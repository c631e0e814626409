package embedding

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/retry"
	"github.com/hyperjump/kura/pkg/utils"
)

var (
	// ErrDimensionMismatch is returned when a provider returns a vector of unexpected length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmptyText is returned when asked to embed blank text.
	ErrEmptyText = errors.New("empty text")
)

// previewLen bounds how much chunk text is copied into failure logs.
const previewLen = 200

// Generator wraps an Embedder with an LRU cache and the rate-limit retry policy.
type Generator struct {
	embedder Embedder
	model    string
	cache    *Cache
	policy   retry.Policy
	logger   *zap.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// WithPolicy overrides the retry policy.
func WithPolicy(p retry.Policy) GeneratorOption {
	return func(g *Generator) { g.policy = p }
}

// WithCacheSize sets the number of embeddings kept in memory. Zero disables the cache.
func WithCacheSize(n int) GeneratorOption {
	return func(g *Generator) { g.cache = NewCache(n) }
}

// WithModelName sets the model name used in cache keys and logs.
func WithModelName(name string) GeneratorOption {
	return func(g *Generator) { g.model = name }
}

// NewGenerator returns a Generator for e.
func NewGenerator(e Embedder, opts ...GeneratorOption) *Generator {
	g := &Generator{embedder: e, cache: NewCache(0), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateEmbeddings returns the embedding for text. Rate-limited failures are retried per the
// policy. Any other failure is logged with the request details and returned without retry.
func (g *Generator) GenerateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	key := CacheKey(g.model, text)
	if v, ok := g.cache.Get(key); ok {
		return v, nil
	}

	vec, err := retry.Do(ctx, g.policy, g.logger, "embedding", func(ctx context.Context) ([]float32, error) {
		return g.embedder.Embed(ctx, text)
	})
	if err != nil {
		if !errors.Is(err, retry.ErrAttemptsExhausted) && ctx.Err() == nil {
			g.logger.Error("embedding request failed",
				zap.String("model", g.model),
				zap.Int("text_length", len(text)),
				zap.String("text_preview", utils.Truncate(text, previewLen)),
				zap.Error(err))
		}
		return nil, fmt.Errorf("generate embedding: %w", err)
	}
	if want := g.embedder.Dimensions(); want > 0 && len(vec) != want {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}
	g.cache.Set(key, vec)
	return vec, nil
}

// Dimensions returns the configured vector length.
func (g *Generator) Dimensions() int { return g.embedder.Dimensions() }

// Release unloads the embedding model if the provider holds one.
func (g *Generator) Release(ctx context.Context) error {
	if r, ok := g.embedder.(Releaser); ok {
		return r.Release(ctx)
	}
	return nil
}

// Close closes the underlying embedder.
func (g *Generator) Close() error { return g.embedder.Close() }
