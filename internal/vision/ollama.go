package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/hyperjump/kura/internal/provider"
)

// OllamaVision runs a local multimodal model (llava, llama3.2-vision, ...) through Ollama.
type OllamaVision struct {
	client *api.Client
	model  string
	prompt string
}

// NewOllamaVision connects to the Ollama server at baseURL.
func NewOllamaVision(baseURL, model, prompt string) (*OllamaVision, error) {
	client, err := provider.NewOllamaClient(baseURL)
	if err != nil {
		return nil, err
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &OllamaVision{client: client, model: model, prompt: prompt}, nil
}

func (o *OllamaVision) ExtractText(ctx context.Context, image []byte, _ string) (string, error) {
	stream := false
	var sb strings.Builder
	err := o.client.Generate(ctx, &api.GenerateRequest{
		Model:  o.model,
		Prompt: o.prompt,
		Images: []api.ImageData{image},
		Stream: &stream,
	}, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate (%s): %w", o.model, err)
	}
	return sb.String(), nil
}

// Release asks the server to unload the model immediately.
func (o *OllamaVision) Release(ctx context.Context) error {
	stream := false
	err := o.client.Generate(ctx, &api.GenerateRequest{
		Model:     o.model,
		KeepAlive: &api.Duration{Duration: 0},
		Stream:    &stream,
	}, func(api.GenerateResponse) error { return nil })
	if err != nil {
		return fmt.Errorf("ollama unload (%s): %w", o.model, err)
	}
	return nil
}
