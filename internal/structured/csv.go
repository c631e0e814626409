package structured

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/hyperjump/kura/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ChunkCSV parses comma-separated content (first row is the header) and chunks it with ChunkTable.
// label prefixes every CsvPath, normally the file name.
func (c *Converter) ChunkCSV(ctx context.Context, data []byte, label string) ([]*models.TextRecord, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv: %v", ErrMalformedInput, err)
		}
		rows = append(rows, rec)
	}
	return c.ChunkTable(ctx, rows, label)
}
