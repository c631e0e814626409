// Package ingest runs documents through validation, extraction, chunking, enrichment and storage.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/chunker"
	"github.com/hyperjump/kura/internal/enrich"
	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/fileid"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/retry"
	"github.com/hyperjump/kura/internal/structured"
	"github.com/hyperjump/kura/internal/vectorstore"
	"github.com/hyperjump/kura/internal/vision"
)

// Stage names a step of the per-document state machine.
type Stage string

const (
	StageValidate         Stage = "validate"
	StageEnsureCollection Stage = "ensure_collection"
	StageDeleteStale      Stage = "delete_stale"
	StageExtract          Stage = "extract"
	StageChunk            Stage = "chunk"
	StageEnrich           Stage = "enrich"
	StageUpsert           Stage = "upsert"
)

// ErrNoVision is returned when an image must be read but no vision capability is configured.
var ErrNoVision = errors.New("no vision capability configured")

// StageError reports the stage at which a document failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return string(e.Stage) + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Result summarizes one ingestion.
type Result struct {
	DocumentID string
	// Records is the number of records upserted.
	Records int
	// Deleted is the number of stale records removed before upserting.
	Deleted int
	Batches int
	// Skipped is set by IngestFile when the file is unchanged since it was last ingested.
	Skipped bool
}

// Releaser frees model resources held by an external inference service.
type Releaser interface {
	Release(ctx context.Context) error
}

// Defaults applied when a request leaves batching unset.
const (
	DefaultBatchSize = 16
)

// Pipeline ingests documents into one collection.
type Pipeline struct {
	chunker    *chunker.Chunker
	structured *structured.Converter
	vision     *vision.Extractor
	pdf        *extract.PDFExtractor
	enricher   *enrich.Enricher
	collection vectorstore.Collection

	releasers  []Releaser
	openPDF    func([]byte) (extract.Document, error)
	sleep      func(ctx context.Context, d time.Duration) error
	keyGen     func() string
	tableOpts  []structured.Option
	batchSize  int
	batchDelay time.Duration
	extensions []string
	logger     *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger passed down to every stage.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithKeyGenerator sets the function producing record keys.
func WithKeyGenerator(f func() string) Option {
	return func(p *Pipeline) { p.keyGen = f }
}

// WithReleasers adds model lifecycle hooks run after each successful ingestion.
func WithReleasers(r ...Releaser) Option {
	return func(p *Pipeline) { p.releasers = append(p.releasers, r...) }
}

// WithPDFOpener replaces the PDF parser.
func WithPDFOpener(f func([]byte) (extract.Document, error)) Option {
	return func(p *Pipeline) { p.openPDF = f }
}

// WithSleep replaces the inter-batch wait.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = f }
}

// WithColumnLimits sets the table chunker's column group bounds.
func WithColumnLimits(maxCols, minCols int) Option {
	return func(p *Pipeline) { p.tableOpts = append(p.tableOpts, structured.WithColumnLimits(maxCols, minCols)) }
}

// WithBatchDefaults sets the batch size and inter-batch delay used when a request leaves them unset.
func WithBatchDefaults(size int, delay time.Duration) Option {
	return func(p *Pipeline) {
		p.batchSize = size
		p.batchDelay = delay
	}
}

// WithExtensions limits IngestFile and IngestDirectory to the given file extensions.
func WithExtensions(exts []string) Option {
	return func(p *Pipeline) { p.extensions = exts }
}

// New returns a Pipeline. vis may be nil, in which case image documents fail and PDF images are
// skipped. The vision extractor and gen are released after each document when they support it.
func New(ch *chunker.Chunker, gen enrich.EmbeddingGenerator, vis *vision.Extractor, coll vectorstore.Collection, opts ...Option) *Pipeline {
	p := &Pipeline{
		chunker:    ch,
		vision:     vis,
		collection: coll,
		openPDF:    extract.OpenPDF,
		sleep:      retry.Sleep,
		batchSize:  DefaultBatchSize,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.structured = structured.New(ch, append([]structured.Option{structured.WithLogger(p.logger)}, p.tableOpts...)...)
	var reader extract.ImageReader
	if vis != nil {
		reader = vis
		p.releasers = append([]Releaser{vis}, p.releasers...)
	}
	if r, ok := gen.(Releaser); ok {
		p.releasers = append(p.releasers, r)
	}
	p.pdf = extract.NewPDFExtractor(reader, extract.WithLogger(p.logger))

	enrichOpts := []enrich.Option{enrich.WithLogger(p.logger)}
	if p.keyGen != nil {
		enrichOpts = append(enrichOpts, enrich.WithKeyGenerator(p.keyGen))
	}
	p.enricher = enrich.New(gen, ch, enrichOpts...)
	return p
}

// Ingest runs req through every stage: validate, ensure the collection, delete the document's
// stale records, extract, chunk, enrich and upsert in batches, then release models. A failure
// aborts the remaining stages; records deleted before the failure are not restored.
func (p *Pipeline) Ingest(ctx context.Context, req *models.DocumentRequest) (*Result, error) {
	ct, err := req.Validate()
	if err != nil {
		return nil, stageErr(StageValidate, err)
	}
	if ct.Kind() == models.KindUnknown {
		return nil, stageErr(StageValidate, fmt.Errorf("%w: %s", models.ErrUnsupportedContentType, ct))
	}
	docID := fileid.DocumentID(req.Path, req.FileName)
	log := p.logger.With(zap.String("file", req.DisplayName()), zap.String("doc_id", docID))
	res := &Result{DocumentID: docID}

	if err := p.collection.EnsureExists(ctx); err != nil {
		return nil, stageErr(StageEnsureCollection, err)
	}

	deleted, err := p.deleteByDocumentID(ctx, docID)
	if err != nil {
		return nil, stageErr(StageDeleteStale, err)
	}
	res.Deleted = deleted

	content, err := p.load(req)
	if err != nil {
		return nil, stageErr(StageExtract, err)
	}
	recs, err := p.handle(ctx, ct, req, content)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		r.SourceDocumentID = docID
		mergeMetadata(r, req.Metadata)
	}
	log.Debug("document chunked", zap.String("content_type", string(ct)), zap.Int("records", len(recs)))

	if err := p.store(ctx, recs, req, res); err != nil {
		return nil, err
	}

	p.release(ctx, log)
	log.Info("document ingested",
		zap.Int("records", res.Records),
		zap.Int("deleted", res.Deleted),
		zap.Int("batches", res.Batches))
	return res, nil
}

func (p *Pipeline) load(req *models.DocumentRequest) ([]byte, error) {
	if len(req.Content) > 0 {
		return req.Content, nil
	}
	data, err := os.ReadFile(models.StripFileScheme(req.Path))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// store enriches and upserts recs in batches of the request's batch size, waiting the
// inter-batch delay between batches.
func (p *Pipeline) store(ctx context.Context, recs []*models.TextRecord, req *models.DocumentRequest, res *Result) error {
	size := req.BatchSize
	if size <= 0 {
		size = p.batchSize
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	delay := req.InterBatchDelay
	if delay == 0 {
		delay = p.batchDelay
	}

	for start := 0; start < len(recs); start += size {
		if start > 0 && delay > 0 {
			if err := p.sleep(ctx, delay); err != nil {
				return stageErr(StageUpsert, err)
			}
		}
		end := min(start+size, len(recs))
		batch := recs[start:end]
		if err := p.enricher.EnrichBatch(ctx, batch, req, size); err != nil {
			return stageErr(StageEnrich, err)
		}
		if err := p.collection.Upsert(ctx, batch); err != nil {
			return stageErr(StageUpsert, err)
		}
		res.Records += len(batch)
		res.Batches++
	}
	return nil
}

func (p *Pipeline) release(ctx context.Context, log *zap.Logger) {
	for _, r := range p.releasers {
		if err := r.Release(ctx); err != nil {
			log.Warn("model release failed", zap.Error(err))
		}
	}
}

func (p *Pipeline) deleteByDocumentID(ctx context.Context, docID string) (int, error) {
	return p.collection.DeleteBySource(ctx, docID)
}

// DeleteDocument removes every record of the document identified by path, or by fileName for
// in-memory documents ingested without a path. Returns the number of records deleted.
func (p *Pipeline) DeleteDocument(ctx context.Context, path, fileName string) (int, error) {
	if path == "" && fileName == "" {
		return 0, models.ErrMissingSource
	}
	if err := p.collection.EnsureExists(ctx); err != nil {
		return 0, stageErr(StageEnsureCollection, err)
	}
	docID := fileid.DocumentID(path, fileName)
	n, err := p.deleteByDocumentID(ctx, docID)
	if err != nil {
		return 0, stageErr(StageDeleteStale, err)
	}
	p.logger.Debug("document deleted", zap.String("doc_id", docID), zap.Int("records", n))
	return n, nil
}

func mergeMetadata(r *models.TextRecord, meta map[string]string) {
	if len(meta) == 0 {
		return
	}
	if r.Metadata == nil {
		r.Metadata = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		if _, ok := r.Metadata[k]; !ok {
			r.Metadata[k] = v
		}
	}
}
