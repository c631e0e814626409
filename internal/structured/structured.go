// Package structured decomposes JSON, XML and tabular data into path-addressed text records.
package structured

import (
	"errors"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/chunker"
	"github.com/hyperjump/kura/internal/models"
)

// ErrMalformedInput is returned when structured content cannot be parsed.
var ErrMalformedInput = errors.New("malformed structured input")

// Default column limits for the table chunker.
const (
	DefaultMaxColumnsPerChunk = 10
	DefaultMinColumnsPerChunk = 2
)

// Converter flattens structured documents into chunked records.
type Converter struct {
	chunker *chunker.Chunker
	maxCols int
	minCols int
	logger  *zap.Logger
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets a logger for warnings (ragged rows, oversized groups).
func WithLogger(l *zap.Logger) Option {
	return func(c *Converter) { c.logger = l }
}

// WithColumnLimits sets the maximum and minimum number of columns rendered per table chunk.
func WithColumnLimits(maxCols, minCols int) Option {
	return func(c *Converter) {
		if maxCols > 0 {
			c.maxCols = maxCols
		}
		if minCols > 0 {
			c.minCols = minCols
		}
	}
}

// New returns a Converter that chunks leaf values with ch.
func New(ch *chunker.Chunker, opts ...Option) *Converter {
	c := &Converter{
		chunker: ch,
		maxCols: DefaultMaxColumnsPerChunk,
		minCols: DefaultMinColumnsPerChunk,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.minCols > c.maxCols {
		c.minCols = c.maxCols
	}
	return c
}

// emit chunks text under header and appends one record per chunk.
func (c *Converter) emit(out []*models.TextRecord, text, header string, kind models.PathKind, path, nodeType, parent string) []*models.TextRecord {
	for _, chunk := range c.chunker.ChunkText(text, header) {
		rec := models.NewTextRecord(chunk, 0)
		rec.Path = path
		rec.PathKind = kind
		rec.NodeType = nodeType
		rec.ParentInfo = parent
		out = append(out, rec)
	}
	return out
}
