package enrich

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kura/internal/fileid"
	"github.com/hyperjump/kura/internal/models"
)

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	failOn   string
}

func (g *fakeGenerator) GenerateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if text == g.failOn {
		return nil, errors.New("embedding backend failed")
	}
	return []float32{float32(len(text))}, nil
}

func counterKeys() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("key-%d", n.Add(1)) }
}

func TestEnrich_pagedProvenance(t *testing.T) {
	gen := &fakeGenerator{}
	e := New(gen, nil, WithKeyGenerator(counterKeys()))
	req := &models.DocumentRequest{Path: "docs/report.pdf"}
	if _, err := req.Validate(); err != nil {
		t.Fatal(err)
	}
	rec := models.NewTextRecord("quarterly numbers", 3)

	if err := e.Enrich(context.Background(), rec, req); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if got := rec.ReferenceDescription.OrZero(); got != "report.pdf#page=3" {
		t.Errorf("description = %q", got)
	}
	abs, _ := filepath.Abs("docs/report.pdf")
	if got, want := rec.ReferenceLink.OrZero(), "file://"+filepath.ToSlash(abs)+"#page=3"; got != want {
		t.Errorf("link = %q, want %q", got, want)
	}
	if rec.Key() != "key-1" {
		t.Errorf("key = %q", rec.Key())
	}
	if rec.SourceDocumentID != fileid.DocumentID("docs/report.pdf", "") {
		t.Errorf("source id = %q", rec.SourceDocumentID)
	}
	if tc, ok := rec.TokenCount.Get(); !ok || tc == 0 {
		t.Errorf("token count = %d, %v", tc, ok)
	}
	if vec, ok := rec.TextEmbedding.Get(); !ok || len(vec) != 1 {
		t.Errorf("embedding = %v, %v", vec, ok)
	}
}

func TestEnrich_unpaginatedAndFileScheme(t *testing.T) {
	e := New(&fakeGenerator{}, nil)
	req := &models.DocumentRequest{Content: []byte("x"), FileName: "file://notes.md"}
	rec := models.NewTextRecord("hello", 0)
	if err := e.Enrich(context.Background(), rec, req); err != nil {
		t.Fatal(err)
	}
	if got := rec.ReferenceDescription.OrZero(); got != "notes.md" {
		t.Errorf("description = %q", got)
	}
	if got := rec.ReferenceLink.OrZero(); got != "file://notes.md" {
		t.Errorf("link = %q", got)
	}
	if rec.Key() == "" {
		t.Error("default key generator should assign a key")
	}
}

func TestEnrich_assignOnce(t *testing.T) {
	gen := &fakeGenerator{}
	e := New(gen, nil, WithKeyGenerator(counterKeys()))
	rec := models.NewTextRecord("text", 2)
	if err := rec.SetKey("preset"); err != nil {
		t.Fatal(err)
	}
	rec.SourceDocumentID = "doc-1"
	rec.ReferenceDescription = models.Some("custom description")
	rec.ReferenceLink = models.Some("https://example.com/doc")
	rec.TextEmbedding = models.Some([]float32{9, 9})
	rec.TokenCount = models.Some(42)

	if err := e.Enrich(context.Background(), rec, &models.DocumentRequest{Path: "a.pdf", FileName: "a.pdf"}); err != nil {
		t.Fatal(err)
	}
	if rec.Key() != "preset" || rec.SourceDocumentID != "doc-1" {
		t.Errorf("identity overwritten: %q %q", rec.Key(), rec.SourceDocumentID)
	}
	if rec.ReferenceDescription.OrZero() != "custom description" || rec.ReferenceLink.OrZero() != "https://example.com/doc" {
		t.Error("references overwritten")
	}
	if rec.TokenCount.OrZero() != 42 || len(rec.TextEmbedding.OrZero()) != 2 {
		t.Error("token count or embedding overwritten")
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times for a record that already has an embedding", gen.calls)
	}
}

func TestEnrichBatch_boundedConcurrency(t *testing.T) {
	gen := &fakeGenerator{delay: 5 * time.Millisecond}
	e := New(gen, nil, WithKeyGenerator(counterKeys()))
	recs := make([]*models.TextRecord, 20)
	for i := range recs {
		recs[i] = models.NewTextRecord(fmt.Sprintf("chunk %d", i), 0)
	}
	req := &models.DocumentRequest{Path: "a.txt", FileName: "a.txt"}
	if err := e.EnrichBatch(context.Background(), recs, req, 4); err != nil {
		t.Fatalf("EnrichBatch: %v", err)
	}
	if p := gen.peak.Load(); p > 4 {
		t.Errorf("peak concurrency = %d, want <= 4", p)
	}
	keys := map[string]bool{}
	for _, r := range recs {
		if !r.TextEmbedding.IsSet() {
			t.Fatal("record left without embedding")
		}
		if keys[r.Key()] {
			t.Errorf("duplicate key %s", r.Key())
		}
		keys[r.Key()] = true
	}
}

func TestEnrichBatch_firstErrorReturned(t *testing.T) {
	gen := &fakeGenerator{failOn: "bad"}
	e := New(gen, nil)
	recs := []*models.TextRecord{models.NewTextRecord("good", 0), models.NewTextRecord("bad", 0)}
	err := e.EnrichBatch(context.Background(), recs, &models.DocumentRequest{FileName: "a.txt", Content: []byte("x")}, 1)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestReferenceDescription(t *testing.T) {
	tests := []struct {
		file string
		page int
		want string
	}{
		{"report.pdf", 3, "report.pdf#page=3"},
		{"notes.txt", 0, "notes.txt"},
	}
	for _, tt := range tests {
		if got := ReferenceDescription(tt.file, tt.page); got != tt.want {
			t.Errorf("ReferenceDescription(%q, %d) = %q, want %q", tt.file, tt.page, got, tt.want)
		}
	}
}
