// Package convert normalizes free-text formats (plain text, Markdown, HTML) into Markdown-flavored text before chunking.
package convert

import (
	"context"

	"github.com/hyperjump/kura/internal/models"
)

// Converter turns raw document bytes into normalized text.
type Converter interface {
	Convert(ctx context.Context, content []byte) (string, error)
}

// For returns the converter for a free-text content type.
// Structured types (JSON, XML, CSV) are not handled here.
func For(ct models.ContentType) (Converter, bool) {
	switch ct {
	case models.ContentTypePlain:
		return PlainConverter{}, true
	case models.ContentTypeMarkdown:
		return NewMarkdownConverter(), true
	case models.ContentTypeHTML:
		return NewHTMLConverter(), true
	default:
		return nil, false
	}
}
