// Package extract pulls page-ordered raw content out of paginated documents.
package extract

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/models"
)

// Document is an opened paginated document.
type Document interface {
	NumPage() int
	// Page returns page n, 1-based.
	Page(n int) (Page, error)
}

// Page exposes the embedded images and text blocks of one page.
type Page interface {
	Images() ([]Image, error)
	TextBlocks() ([]string, error)
}

// Image is an embedded raster image ready to send to a vision model.
type Image struct {
	Data []byte
	MIME string
}

// ImageReader turns an image into text. *vision.Extractor implements it.
type ImageReader interface {
	GetImageText(ctx context.Context, image []byte, mime string) (string, error)
}

// PDFExtractor walks a Document page by page. Images are routed to the ImageReader, text blocks
// are taken as-is.
type PDFExtractor struct {
	images ImageReader
	logger *zap.Logger
}

// Option configures a PDFExtractor.
type Option func(*PDFExtractor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *PDFExtractor) { e.logger = l }
}

// NewPDFExtractor returns an extractor that reads images with r. A nil r skips images.
func NewPDFExtractor(r ImageReader, opts ...Option) *PDFExtractor {
	e := &PDFExtractor{images: r, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the raw content of doc in page order: for each page the image texts first,
// then the text blocks. Cancellation is checked between pages and between items. Pages or images
// that cannot be decoded are logged and skipped; image reader failures abort extraction.
func (e *PDFExtractor) Extract(ctx context.Context, doc Document) ([]models.RawContent, error) {
	var out []models.RawContent
	n := doc.NumPage()
	for pageNum := 1; pageNum <= n; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := doc.Page(pageNum)
		if err != nil {
			e.logger.Warn("skipping unreadable page", zap.Int("page", pageNum), zap.Error(err))
			continue
		}

		if e.images != nil {
			imgs, err := page.Images()
			if err != nil {
				e.logger.Warn("skipping page images", zap.Int("page", pageNum), zap.Error(err))
			}
			for i, img := range imgs {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				text, err := e.images.GetImageText(ctx, img.Data, img.MIME)
				if err != nil {
					return nil, fmt.Errorf("page %d image %d: %w", pageNum, i+1, err)
				}
				if text = strings.TrimSpace(text); text != "" {
					out = append(out, models.RawContent{Text: text, PageNumber: pageNum})
				}
			}
		}

		blocks, err := page.TextBlocks()
		if err != nil {
			e.logger.Warn("skipping page text", zap.Int("page", pageNum), zap.Error(err))
			continue
		}
		for _, b := range blocks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, models.RawContent{Text: b, PageNumber: pageNum})
			}
		}
	}
	e.logger.Debug("pdf extracted", zap.Int("pages", n), zap.Int("items", len(out)))
	return out, nil
}
