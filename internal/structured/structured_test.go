package structured

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kura/internal/chunker"
	"github.com/hyperjump/kura/internal/models"
)

func newTestConverter(maxTokens int, opts ...Option) *Converter {
	return New(chunker.NewChunker(chunker.ApproxCounter{}, maxTokens), opts...)
}

func paths(recs []*models.TextRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Path
	}
	return out
}

func TestFlattenJSON(t *testing.T) {
	c := newTestConverter(256)
	in := `{"name":"kura","tags":["a","b"],"nested":{"n":1.5,"ok":true,"nil":null}}`
	recs, err := c.FlattenJSON(context.Background(), []byte(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "tags[0]", "tags[1]", "nested:n", "nested:ok", "nested:nil"}, paths(recs))
	assert.Equal(t, "JSON Path: name\n\nkura", recs[0].Text.OrZero())
	assert.Equal(t, "name", recs[0].JSONPath())
	assert.Equal(t, models.ParentObject, recs[0].ParentInfo)
	assert.Equal(t, models.ParentArray, recs[1].ParentInfo)
	assert.Equal(t, "JSON Path: nested:n\n\n1.5", recs[3].Text.OrZero())
	assert.Equal(t, "JSON Path: nested:nil\n\nnull", recs[5].Text.OrZero())
	for _, r := range recs {
		assert.Equal(t, models.NodeTypeValue, r.NodeType)
		assert.Equal(t, models.PathKindJSON, r.PathKind)
	}
}

func TestFlattenJSON_rootValues(t *testing.T) {
	c := newTestConverter(64)

	recs, err := c.FlattenJSON(context.Background(), []byte(`42`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "$", recs[0].Path)
	assert.Equal(t, models.ParentRoot, recs[0].ParentInfo)

	recs, err = c.FlattenJSON(context.Background(), []byte(`[{"a":1},[2]]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"[0]:a", "[1][0]"}, paths(recs))
}

func TestFlattenJSON_longValueIsChunked(t *testing.T) {
	c := newTestConverter(32)
	long := strings.Repeat("word ", 200)
	recs, err := c.FlattenJSON(context.Background(), []byte(`{"body":"`+long+`"}`))
	require.NoError(t, err)
	require.Greater(t, len(recs), 1)
	for _, r := range recs {
		assert.True(t, strings.HasPrefix(r.Text.OrZero(), "JSON Path: body\n\n"))
		assert.LessOrEqual(t, chunker.ApproxCounter{}.CountTokens(r.Text.OrZero()), 32)
	}
}

func TestFlattenJSON_malformed(t *testing.T) {
	c := newTestConverter(64)
	for _, in := range []string{`{"a":`, `{"a":1}}`, `{} {}`, ``} {
		_, err := c.FlattenJSON(context.Background(), []byte(in))
		assert.ErrorIs(t, err, ErrMalformedInput, "input %q", in)
	}
}

func TestFlattenXML(t *testing.T) {
	c := newTestConverter(256)
	in := `<?xml version="1.0"?>
<root id="7" xmlns="urn:x">
  <item lang="en">Hello</item>
  <group><leaf>x</leaf></group>
  <empty/>
</root>`
	recs, err := c.FlattenXML(context.Background(), []byte(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"/root/@id", "/root/item/@lang", "/root/item", "/root/group/leaf"}, paths(recs))
	assert.Equal(t, models.NodeTypeAttribute, recs[0].NodeType)
	assert.Equal(t, "XML Path: /root/@id\n\n7", recs[0].Text.OrZero())
	assert.Equal(t, models.NodeTypeElement, recs[2].NodeType)
	assert.Equal(t, "XML Path: /root/item\n\nHello", recs[2].Text.OrZero())
	assert.Equal(t, "/root/group/leaf", recs[3].XMLPath())
	for _, r := range recs {
		assert.Equal(t, models.ParentElement, r.ParentInfo)
	}
}

func TestFlattenXML_malformed(t *testing.T) {
	c := newTestConverter(64)
	for _, in := range []string{`<root><a></root>`, ``, `<a/><b/>`} {
		_, err := c.FlattenXML(context.Background(), []byte(in))
		assert.ErrorIs(t, err, ErrMalformedInput, "input %q", in)
	}
}

func TestChunkCSV_twoColumnsFifteenRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("name,score\n")
	for i := 1; i <= 15; i++ {
		fmt.Fprintf(&b, "player%d,%d\n", i, i*10)
	}
	c := newTestConverter(1024)
	recs, err := c.ChunkCSV(context.Background(), []byte(b.String()), "scores.csv")
	require.NoError(t, err)
	require.Len(t, recs, 16)

	seen := map[string]bool{}
	for _, r := range recs {
		assert.False(t, seen[r.CSVPath()], "duplicate path %s", r.CSVPath())
		seen[r.CSVPath()] = true
	}
	assert.Equal(t, "scores.csv:row:1", recs[0].Path)
	assert.Equal(t, models.NodeTypeRow, recs[0].NodeType)
	assert.Equal(t, "| name | score |\n| --- | --- |\n| player1 | 10 |", recs[0].Text.OrZero())

	last := recs[15]
	assert.Equal(t, "scores.csv:metadata", last.Path)
	assert.Equal(t, models.NodeTypeSummary, last.NodeType)
	assert.Contains(t, last.Text.OrZero(), "Columns: 2")
	assert.Contains(t, last.Text.OrZero(), "Rows: 15")
}

func wideTable(cols int, value func(i int) string) [][]string {
	header := make([]string, cols)
	row := make([]string, cols)
	for i := range header {
		header[i] = fmt.Sprintf("column_%02d", i+1)
		row[i] = value(i)
	}
	return [][]string{header, row}
}

var columnsRe = regexp.MustCompile(`:columns:(\d+)-(\d+)`)

// assertCoverage checks that the column ranges in paths cover 1..cols exactly once.
func assertCoverage(t *testing.T, recs []*models.TextRecord, cols int) {
	t.Helper()
	type span struct{ s, e int }
	uniq := map[span]bool{}
	for _, r := range recs {
		if r.NodeType != models.NodeTypeSubRow {
			continue
		}
		m := columnsRe.FindStringSubmatch(r.Path)
		require.NotNil(t, m, "sub-row path %q", r.Path)
		s, _ := strconv.Atoi(m[1])
		e, _ := strconv.Atoi(m[2])
		uniq[span{s, e}] = true
	}
	spans := make([]span, 0, len(uniq))
	for sp := range uniq {
		spans = append(spans, sp)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].s < spans[j].s })
	next := 1
	for _, sp := range spans {
		require.Equal(t, next, sp.s, "gap or overlap at column %d", next)
		require.GreaterOrEqual(t, sp.e, sp.s)
		next = sp.e + 1
	}
	require.Equal(t, cols+1, next, "columns not fully covered")
}

func TestChunkTable_halvesOversizedGroups(t *testing.T) {
	// A ten-column group renders to ~74 tokens, five columns to ~38.
	c := newTestConverter(64)
	rows := wideTable(12, func(i int) string { return fmt.Sprintf("value_%02d", i+1) })
	recs, err := c.ChunkTable(context.Background(), rows, "wide.csv")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"wide.csv:row:1:columns:1-5",
		"wide.csv:row:1:columns:6-10",
		"wide.csv:row:1:columns:11-12",
		"wide.csv:metadata",
	}, paths(recs))
	for _, r := range recs {
		assert.LessOrEqual(t, chunker.ApproxCounter{}.CountTokens(r.Text.OrZero()), 64)
	}
	assertCoverage(t, recs, 12)
}

func TestChunkTable_fitsWithoutHalving(t *testing.T) {
	c := newTestConverter(1024)
	rows := wideTable(23, func(i int) string { return strconv.Itoa(i) })
	recs, err := c.ChunkTable(context.Background(), rows, "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"t:row:1:columns:1-10", "t:row:1:columns:11-20", "t:row:1:columns:21-23", "t:metadata"}, paths(recs))
	assertCoverage(t, recs, 23)
}

func TestChunkTable_keyValueFallback(t *testing.T) {
	c := newTestConverter(64)
	long := strings.Repeat("x", 120)
	rows := wideTable(12, func(int) string { return long })
	recs, err := c.ChunkTable(context.Background(), rows, "big.csv")
	require.NoError(t, err)

	var subRows int
	for _, r := range recs {
		assert.LessOrEqual(t, chunker.ApproxCounter{}.CountTokens(r.Text.OrZero()), 64)
		if r.NodeType == models.NodeTypeSubRow {
			subRows++
			assert.NotContains(t, r.Text.OrZero(), "| --- |")
		}
	}
	assert.Greater(t, subRows, 6)
	assertCoverage(t, recs, 12)

	uniq := map[string]bool{}
	for _, p := range paths(recs) {
		assert.False(t, uniq[p], "duplicate path %s", p)
		uniq[p] = true
	}
}

func TestChunkTable_narrowRowFallback(t *testing.T) {
	c := newTestConverter(32)
	rows := [][]string{{"a", "b"}, {strings.Repeat("long text ", 20), "short"}}
	recs, err := c.ChunkTable(context.Background(), rows, "n.csv")
	require.NoError(t, err)
	require.Greater(t, len(recs), 2)
	for _, r := range recs[:len(recs)-1] {
		assert.Equal(t, models.NodeTypeRow, r.NodeType)
		assert.True(t, strings.HasPrefix(r.Path, "n.csv:row:1:part:"), r.Path)
		assert.True(t, strings.HasPrefix(r.Text.OrZero(), "n.csv row 1\n\n"))
	}
}

func TestChunkCSV_escapingAndRaggedRows(t *testing.T) {
	c := newTestConverter(256)
	in := "\xEF\xBB\xBFh1,h2\n\"a|b\",\"line1\nline2\"\nonly\nx,y,z\n"
	recs, err := c.ChunkCSV(context.Background(), []byte(in), "e.csv")
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.Equal(t, "| h1 | h2 | column_3 |\n| --- | --- | --- |\n| a\\|b | line1<br>line2 |  |", recs[0].Text.OrZero())
	assert.Equal(t, "| h1 | h2 | column_3 |\n| --- | --- | --- |\n| only |  |  |", recs[1].Text.OrZero())
	assert.Contains(t, recs[2].Text.OrZero(), "| x | y | z |")
	assert.Contains(t, recs[3].Text.OrZero(), "Headers: h1, h2, column_3")
}

func TestChunkCSV_headerOnlyAndEmpty(t *testing.T) {
	c := newTestConverter(64)
	recs, err := c.ChunkCSV(context.Background(), []byte("a,b\n"), "h.csv")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.NodeTypeSummary, recs[0].NodeType)

	_, err = c.ChunkCSV(context.Background(), nil, "empty.csv")
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestChunkTable_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestConverter(64).ChunkTable(ctx, [][]string{{"a"}, {"1"}}, "c")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChunkTable_deterministic(t *testing.T) {
	c := newTestConverter(64)
	rows := wideTable(17, func(i int) string { return strings.Repeat("v", i*7) })
	first, err := c.ChunkTable(context.Background(), rows, "d")
	require.NoError(t, err)
	second, err := c.ChunkTable(context.Background(), rows, "d")
	require.NoError(t, err)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Path, second[i].Path)
		assert.Equal(t, first[i].Text.OrZero(), second[i].Text.OrZero())
	}
	assertCoverage(t, first, 17)
}

func TestNew_clampsMinColumns(t *testing.T) {
	c := New(chunker.NewChunker(nil, 64), WithColumnLimits(4, 9))
	assert.Equal(t, 4, c.maxCols)
	assert.Equal(t, 4, c.minCols)
}
