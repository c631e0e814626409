// Package enrich completes text records with keys, provenance, token counts and embeddings.
package enrich

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kura/internal/chunker"
	"github.com/hyperjump/kura/internal/fileid"
	"github.com/hyperjump/kura/internal/models"
)

// EmbeddingGenerator returns the embedding vector for a chunk of text.
type EmbeddingGenerator interface {
	GenerateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// Enricher fills in the fields a record needs before it is stored. Fields that are already
// assigned are left untouched.
type Enricher struct {
	generator EmbeddingGenerator
	counter   chunker.Counter
	keyGen    func() string
	logger    *zap.Logger
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithKeyGenerator sets the function producing record keys. The default is a random UUID.
func WithKeyGenerator(f func() string) Option {
	return func(e *Enricher) { e.keyGen = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Enricher) { e.logger = l }
}

// New returns an Enricher. counter may be nil, in which case the approximate counter is used.
func New(gen EmbeddingGenerator, counter chunker.Counter, opts ...Option) *Enricher {
	if counter == nil {
		counter = chunker.ApproxCounter{}
	}
	e := &Enricher{generator: gen, counter: counter, keyGen: uuid.NewString, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich assigns the key, source document ID, reference description and link, token count and
// embedding of rec when they are not yet set.
func (e *Enricher) Enrich(ctx context.Context, rec *models.TextRecord, req *models.DocumentRequest) error {
	if rec.Key() == "" {
		if err := rec.SetKey(e.keyGen()); err != nil {
			return err
		}
	}
	if rec.SourceDocumentID == "" {
		rec.SourceDocumentID = fileid.DocumentID(req.Path, req.FileName)
	}
	rec.ReferenceDescription.SetIfAbsent(ReferenceDescription(req.DisplayName(), rec.PageNumber))
	rec.ReferenceLink.SetIfAbsent(ReferenceLink(req.Path, req.DisplayName(), rec.PageNumber))

	text := rec.Text.OrZero()
	if !rec.TokenCount.IsSet() {
		rec.TokenCount.SetIfAbsent(e.counter.CountTokens(text))
	}
	if !rec.TextEmbedding.IsSet() {
		vec, err := e.generator.GenerateEmbeddings(ctx, text)
		if err != nil {
			return fmt.Errorf("embed record %s: %w", rec.Key(), err)
		}
		rec.TextEmbedding.SetIfAbsent(vec)
	}
	return nil
}

// EnrichBatch enriches recs with at most limit records in flight. The first failure cancels the
// remaining work and is returned.
func (e *Enricher) EnrichBatch(ctx context.Context, recs []*models.TextRecord, req *models.DocumentRequest, limit int) error {
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, rec := range recs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return e.Enrich(gctx, rec, req)
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("enrichment failed", zap.String("file", req.DisplayName()), zap.Int("records", len(recs)), zap.Error(err))
		return err
	}
	return nil
}

// ReferenceDescription renders "{file}#page={n}", or just the file name for unpaginated content.
func ReferenceDescription(fileName string, page int) string {
	if page > 0 {
		return fileName + "#page=" + strconv.Itoa(page)
	}
	return fileName
}

// ReferenceLink renders a file:// URL for the document, with a page fragment when paginated.
// Without a path the link is built from the file name.
func ReferenceLink(path, fileName string, page int) string {
	p := models.StripFileScheme(path)
	if p == "" {
		p = fileName
	} else if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	link := "file://" + filepath.ToSlash(p)
	if page > 0 {
		link += "#page=" + strconv.Itoa(page)
	}
	return link
}
