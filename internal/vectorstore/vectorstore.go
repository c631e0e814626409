// Package vectorstore persists text records and their embeddings in a named collection.
package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/models"
)

var (
	// ErrMissingKey is returned when a record without a key is written.
	ErrMissingKey = errors.New("record has no key")
	// ErrDimensionMismatch is returned when an embedding does not match the collection width.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Filter selects records for Get. Empty fields do not constrain the result.
type Filter struct {
	SourceDocumentID string
	Keys             []string
	Limit            int
}

// Collection is the write gateway to a vector collection.
type Collection interface {
	// EnsureExists creates the collection (and its schema) when missing.
	EnsureExists(ctx context.Context) error
	Get(ctx context.Context, f Filter) ([]*models.TextRecord, error)
	// Upsert inserts records, replacing any with the same key.
	Upsert(ctx context.Context, recs []*models.TextRecord) error
	Delete(ctx context.Context, keys []string) error
	// DeleteBySource removes every record of a source document and returns how many there were.
	DeleteBySource(ctx context.Context, sourceDocumentID string) (int, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// New opens the collection selected by cfg.Backend. dims is the embedding width; zero skips
// width checks where the backend allows it.
func New(ctx context.Context, cfg config.StoreConfig, dims int) (Collection, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		return NewSQLiteCollection(cfg.DatabasePath, cfg.Collection, dims)
	case config.BackendMemory:
		return NewMemoryCollection(dims), nil
	case config.BackendMilvus:
		return NewMilvusCollection(ctx, cfg.MilvusAddress, cfg.Collection, dims)
	case config.BackendPGVector:
		return NewPGVectorCollection(ctx, cfg.PostgresDSN, cfg.Collection, dims)
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: sqlite, memory, milvus, pgvector)", cfg.Backend)
	}
}

// row is the flat, backend-neutral form of a TextRecord.
type row struct {
	Key              string
	SourceDocumentID string
	Text             string
	Description      string
	Link             string
	Embedding        []float32
	TokenCount       int
	PageNumber       int
	Path             string
	PathKind         string
	NodeType         string
	ParentInfo       string
	Metadata         map[string]string
}

func toRow(r *models.TextRecord, dims int) (row, error) {
	if r.Key() == "" {
		return row{}, ErrMissingKey
	}
	vec := r.TextEmbedding.OrZero()
	if dims > 0 && len(vec) != dims {
		return row{}, fmt.Errorf("%w: record %s has %d, collection expects %d", ErrDimensionMismatch, r.Key(), len(vec), dims)
	}
	return row{
		Key:              r.Key(),
		SourceDocumentID: r.SourceDocumentID,
		Text:             r.Text.OrZero(),
		Description:      r.ReferenceDescription.OrZero(),
		Link:             r.ReferenceLink.OrZero(),
		Embedding:        append([]float32(nil), vec...),
		TokenCount:       r.TokenCount.OrZero(),
		PageNumber:       r.PageNumber,
		Path:             r.Path,
		PathKind:         string(r.PathKind),
		NodeType:         r.NodeType,
		ParentInfo:       r.ParentInfo,
		Metadata:         r.Metadata,
	}, nil
}

func (w row) record() (*models.TextRecord, error) {
	rec := models.NewTextRecord(w.Text, w.PageNumber)
	if err := rec.SetKey(w.Key); err != nil {
		return nil, err
	}
	rec.SourceDocumentID = w.SourceDocumentID
	rec.ReferenceDescription = models.Some(w.Description)
	rec.ReferenceLink = models.Some(w.Link)
	rec.TokenCount = models.Some(w.TokenCount)
	if len(w.Embedding) > 0 {
		rec.TextEmbedding = models.Some(append([]float32(nil), w.Embedding...))
	}
	rec.Path = w.Path
	rec.PathKind = models.PathKind(w.PathKind)
	rec.NodeType = w.NodeType
	rec.ParentInfo = w.ParentInfo
	rec.Metadata = w.Metadata
	return rec, nil
}

func rowsToRecords(rows []row) ([]*models.TextRecord, error) {
	out := make([]*models.TextRecord, 0, len(rows))
	for _, w := range rows {
		rec, err := w.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return m, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
