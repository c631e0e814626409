package structured

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/models"
)

var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", "<br>", "\n", "<br>", "\r", "<br>")

// EscapeCell makes a value safe to place inside a Markdown table cell.
func EscapeCell(s string) string {
	return cellEscaper.Replace(strings.TrimSpace(s))
}

// ChunkTable converts a header row plus data rows into row-scoped records followed by one
// summary record. Rows wider than the column limit are split into column groups; a group that
// exceeds the token budget is halved and retried from the same column until it fits or reaches
// the minimum group size, at which point it is rendered as key/value lines instead.
func (c *Converter) ChunkTable(ctx context.Context, rows [][]string, label string) ([]*models.TextRecord, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: table %q has no header row", ErrMalformedInput, label)
	}
	headers := c.normalizeHeaders(rows, label)
	width := len(headers)

	var out []*models.TextRecord
	for i, raw := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := i + 1
		row := padRow(raw, width)
		if width <= c.maxCols {
			out = c.emitRow(out, headers, row, label, n)
			continue
		}
		size := c.maxCols
		for start := 0; start < width; {
			end := min(start+size, width)
			if table := renderTable(headers[start:end], row[start:end]); c.chunker.Fits(table) {
				out = append(out, tableRecord(table, subRowPath(label, n, start, end), models.NodeTypeSubRow))
				start = end
				continue
			}
			if end-start > c.minCols {
				size = max((end-start)/2, c.minCols)
				continue
			}
			c.logger.Debug("column group over budget, using key/value rendering",
				zap.String("table", label), zap.Int("row", n), zap.Int("start", start+1), zap.Int("end", end))
			out = c.emitKeyValue(out, headers[start:end], row[start:end], subRowPath(label, n, start, end), models.NodeTypeSubRow, label, n)
			start = end
		}
	}

	summary := renderSummary(label, headers, len(rows)-1)
	out = c.emitChunked(out, summary, "", label+":metadata", models.NodeTypeSummary)
	return out, nil
}

// emitRow renders a whole row as a single table, falling back to key/value lines when it does not fit.
func (c *Converter) emitRow(out []*models.TextRecord, headers, row []string, label string, n int) []*models.TextRecord {
	path := rowPath(label, n)
	if table := renderTable(headers, row); c.chunker.Fits(table) {
		return append(out, tableRecord(table, path, models.NodeTypeRow))
	}
	return c.emitKeyValue(out, headers, row, path, models.NodeTypeRow, label, n)
}

func (c *Converter) emitKeyValue(out []*models.TextRecord, headers, row []string, path, nodeType, label string, n int) []*models.TextRecord {
	return c.emitChunked(out, renderKeyValue(headers, row), fmt.Sprintf("%s row %d", label, n), path, nodeType)
}

// emitChunked splits text and appends records. When more than one chunk results, each path gets
// a ":part:{k}" suffix so paths stay unique.
func (c *Converter) emitChunked(out []*models.TextRecord, text, header, path, nodeType string) []*models.TextRecord {
	chunks := c.chunker.ChunkText(text, header)
	for k, chunk := range chunks {
		p := path
		if len(chunks) > 1 {
			p = path + ":part:" + strconv.Itoa(k+1)
		}
		out = append(out, tableRecord(chunk, p, nodeType))
	}
	return out
}

// normalizeHeaders escapes the header row and widens it to the widest data row.
func (c *Converter) normalizeHeaders(rows [][]string, label string) []string {
	width := len(rows[0])
	for _, r := range rows[1:] {
		width = max(width, len(r))
	}
	if width > len(rows[0]) {
		c.logger.Warn("rows wider than header, synthesizing column names",
			zap.String("table", label), zap.Int("header", len(rows[0])), zap.Int("width", width))
	}
	headers := make([]string, width)
	for i := range headers {
		if i < len(rows[0]) && strings.TrimSpace(rows[0][i]) != "" {
			headers[i] = EscapeCell(rows[0][i])
		} else {
			headers[i] = "column_" + strconv.Itoa(i+1)
		}
	}
	return headers
}

func padRow(raw []string, width int) []string {
	row := make([]string, width)
	for i := 0; i < width && i < len(raw); i++ {
		row[i] = EscapeCell(raw[i])
	}
	return row
}

func renderTable(headers, row []string) string {
	var b strings.Builder
	writeTableLine(&b, headers)
	b.WriteByte('\n')
	b.WriteString("|")
	for range headers {
		b.WriteString(" --- |")
	}
	b.WriteByte('\n')
	writeTableLine(&b, row)
	return b.String()
}

func writeTableLine(b *strings.Builder, cells []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cells, " | "))
	b.WriteString(" |")
}

func renderKeyValue(headers, row []string) string {
	var b strings.Builder
	for i, h := range headers {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(h)
		b.WriteString(": ")
		b.WriteString(row[i])
	}
	return b.String()
}

func renderSummary(label string, headers []string, rows int) string {
	return fmt.Sprintf("Table: %s\nColumns: %d\nRows: %d\nHeaders: %s",
		label, len(headers), rows, strings.Join(headers, ", "))
}

func rowPath(label string, n int) string {
	return label + ":row:" + strconv.Itoa(n)
}

// subRowPath uses 1-based inclusive column numbers.
func subRowPath(label string, n, start, end int) string {
	return fmt.Sprintf("%s:row:%d:columns:%d-%d", label, n, start+1, end)
}

func tableRecord(text, path, nodeType string) *models.TextRecord {
	rec := models.NewTextRecord(text, 0)
	rec.Path = path
	rec.PathKind = models.PathKindCSV
	rec.NodeType = nodeType
	rec.ParentInfo = models.ParentTable
	return rec
}
