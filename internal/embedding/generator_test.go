package embedding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/retry"
)

type scriptedEmbedder struct {
	errs  []error
	calls int
	dims  int
	vec   []float32
}

func (s *scriptedEmbedder) Embed(context.Context, string) ([]float32, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return s.vec, nil
}

func (s *scriptedEmbedder) Dimensions() int { return s.dims }
func (s *scriptedEmbedder) Close() error    { return nil }

var noWait = WithPolicy(retry.Policy{Delay: -1})

func TestGenerator_retriesRateLimit(t *testing.T) {
	e := &scriptedEmbedder{errs: []error{retry.ErrRateLimited}, dims: 2, vec: []float32{1, 0}}
	g := NewGenerator(e, noWait)
	vec, err := g.GenerateEmbeddings(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, 2, e.calls)
}

func TestGenerator_exhausted(t *testing.T) {
	e := &scriptedEmbedder{errs: []error{retry.ErrRateLimited, retry.ErrRateLimited, retry.ErrRateLimited}, dims: 2}
	g := NewGenerator(e, noWait)
	_, err := g.GenerateEmbeddings(context.Background(), "hello")
	assert.ErrorIs(t, err, retry.ErrAttemptsExhausted)
	assert.Equal(t, 3, e.calls)
}

func TestGenerator_terminalErrorLoggedAndReturned(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	boom := errors.New("model not found")
	e := &scriptedEmbedder{errs: []error{boom}, dims: 2}
	g := NewGenerator(e, noWait, WithLogger(zap.New(core)), WithModelName("mxbai"))

	text := strings.Repeat("a", 500)
	_, err := g.GenerateEmbeddings(context.Background(), text)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, e.calls)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "mxbai", fields["model"])
	assert.EqualValues(t, 500, fields["text_length"])
	assert.Len(t, fields["text_preview"], previewLen+3)
}

func TestGenerator_dimensionMismatch(t *testing.T) {
	e := &scriptedEmbedder{dims: 3, vec: []float32{1}}
	_, err := NewGenerator(e).GenerateEmbeddings(context.Background(), "x")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestGenerator_cache(t *testing.T) {
	e := &scriptedEmbedder{dims: 1, vec: []float32{0.5}}
	g := NewGenerator(e, WithCacheSize(10))
	for i := 0; i < 3; i++ {
		_, err := g.GenerateEmbeddings(context.Background(), "same text")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, e.calls)

	_, err := g.GenerateEmbeddings(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestMockEmbedder(t *testing.T) {
	m := NewMockEmbedder(16)
	a, err := m.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	b, _ := m.Embed(context.Background(), "alpha")
	c, _ := m.Embed(context.Background(), "beta")
	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, 384, NewMockEmbedder(0).Dimensions())
}

func TestHashString(t *testing.T) {
	assert.NotZero(t, HashString("abc"))
	assert.Equal(t, HashString("abc"), HashString("abc"))
}

func TestOllamaEmbedder_againstServer(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"loading model"}`))
			return
		}
		_, _ = w.Write([]byte(`{"model":"mxbai","embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(srv.URL, "mxbai", 3)
	require.NoError(t, err)
	g := NewGenerator(e, noWait)
	vec, err := g.GenerateEmbeddings(context.Background(), "hello")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, vec, 1e-6)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNew(t *testing.T) {
	e, err := New(context.Background(), config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, e.Dimensions())

	_, err = New(context.Background(), config.EmbeddingConfig{Provider: "nope"})
	assert.Error(t, err)

	_, err = New(context.Background(), config.EmbeddingConfig{Provider: config.ProviderGemini})
	assert.Error(t, err, "gemini without an API key should fail")
}
