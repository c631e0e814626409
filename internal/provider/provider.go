// Package provider builds clients for the model providers that back embeddings and vision.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/ollama/ollama/api"
	"google.golang.org/api/option"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// requestTimeout bounds a single provider call; vision models on CPU are slow.
const requestTimeout = 180 * time.Second

// ErrMissingAPIKey is returned when a hosted provider is configured without credentials.
var ErrMissingAPIKey = errors.New("missing API key")

// NewOllamaClient returns an Ollama API client for baseURL.
func NewOllamaClient(baseURL string) (*api.Client, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL %q: %w", baseURL, err)
	}
	return api.NewClient(u, &http.Client{Timeout: requestTimeout}), nil
}

// NewGeminiClient returns a Gemini client authenticated with apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return cl, nil
}
