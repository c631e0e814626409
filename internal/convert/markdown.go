package convert

import (
	"bytes"
	"context"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// MarkdownConverter normalizes Markdown by parsing it and rendering it back.
type MarkdownConverter struct {
	md   goldmark.Markdown
	html *HTMLConverter
}

// NewMarkdownConverter returns a GFM-aware round-trip converter. Raw HTML in the source is kept
// so the HTML stage can convert it instead of dropping it.
func NewMarkdownConverter() *MarkdownConverter {
	return &MarkdownConverter{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
		html: NewHTMLConverter(),
	}
}

// Convert parses content as Markdown and re-renders it as normalized Markdown.
func (c *MarkdownConverter) Convert(ctx context.Context, content []byte) (string, error) {
	src := []byte(ValidUTF8(content))
	var buf bytes.Buffer
	if err := c.md.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("parse markdown: %w", err)
	}
	return c.html.Convert(ctx, buf.Bytes())
}
