// Package vision extracts text from images through a vision-capable model.
package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/retry"
)

// DefaultPrompt asks the model for a plain transcription.
const DefaultPrompt = "Extract all readable text from this image. Return only the text, preserving line breaks. If the image contains no text, describe it in one sentence."

// Capability turns one image into text.
type Capability interface {
	ExtractText(ctx context.Context, image []byte, mime string) (string, error)
}

// Releaser is implemented by capabilities that hold model resources between calls.
type Releaser interface {
	Release(ctx context.Context) error
}

// Extractor calls a Capability with retry on rate-limited failures.
type Extractor struct {
	capability Capability
	policy     retry.Policy
	logger     *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// WithPolicy overrides the retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(e *Extractor) { e.policy = p }
}

// New builds the capability selected by cfg.Provider. ProviderNone returns a nil Capability.
func New(ctx context.Context, cfg config.VisionConfig) (Capability, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllamaVision(cfg.BaseURL, cfg.Model, cfg.Prompt)
	case config.ProviderGemini:
		return NewGeminiVision(ctx, cfg.APIKey, cfg.Model, cfg.Prompt)
	case config.ProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}
}

// NewExtractor wraps c.
func NewExtractor(c Capability, opts ...Option) *Extractor {
	e := &Extractor{capability: c, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetImageText returns the text of one image. Rate-limited failures are retried per the policy;
// other errors are returned on the first attempt.
func (e *Extractor) GetImageText(ctx context.Context, image []byte, mime string) (string, error) {
	if mime == "" {
		mime = DetectMIME(image)
	}
	text, err := retry.Do(ctx, e.policy, e.logger, "vision", func(ctx context.Context) (string, error) {
		return e.capability.ExtractText(ctx, image, mime)
	})
	if err != nil {
		return "", fmt.Errorf("extract image text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// ExtractImage converts an image document into raw content. Multi-frame TIFFs are split and
// every frame is sent separately with page number frame index + 1; other images produce one
// unpaginated entry.
func (e *Extractor) ExtractImage(ctx context.Context, data []byte, mime string) ([]models.RawContent, error) {
	if mime == "" {
		mime = DetectMIME(data)
	}
	if mime != "image/tiff" {
		text, err := e.GetImageText(ctx, data, mime)
		if err != nil {
			return nil, err
		}
		return []models.RawContent{{Text: text}}, nil
	}

	frames, err := SplitTIFF(data)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("split tiff", zap.Int("frames", len(frames)))
	out := make([]models.RawContent, 0, len(frames))
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := e.GetImageText(ctx, f.PNG, "image/png")
		if err != nil {
			return nil, fmt.Errorf("tiff frame %d: %w", f.Page, err)
		}
		out = append(out, models.RawContent{Text: text, PageNumber: f.Page})
	}
	return out, nil
}

// Release frees model resources if the capability holds any.
func (e *Extractor) Release(ctx context.Context) error {
	if r, ok := e.capability.(Releaser); ok {
		return r.Release(ctx)
	}
	return nil
}

// DetectMIME sniffs the media type of data, without parameters.
func DetectMIME(data []byte) string {
	m := mimetype.Detect(data).String()
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return m
}
