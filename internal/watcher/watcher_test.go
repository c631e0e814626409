package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kura/internal/ingest"
)

const (
	waitFor = 3 * time.Second
	tick    = 20 * time.Millisecond
)

type fakeHandler struct {
	mu       sync.Mutex
	ingested []string
	deleted  []string
	err      error
}

func (h *fakeHandler) IngestFile(_ context.Context, path string) (*ingest.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ingested = append(h.ingested, path)
	if h.err != nil {
		return nil, h.err
	}
	return &ingest.Result{Records: 1}, nil
}

func (h *fakeHandler) DeleteDocument(_ context.Context, path, _ string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, path)
	return 1, nil
}

func (h *fakeHandler) snapshot() (ingested, deleted []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ingested...), append([]string(nil), h.deleted...)
}

func (h *fakeHandler) countIngested(path string) int {
	ingested, _ := h.snapshot()
	n := 0
	for _, p := range ingested {
		if p == path {
			n++
		}
	}
	return n
}

func startWatcher(t *testing.T, roots []string, exts []string, recursive bool, h Handler) *Watcher {
	t.Helper()
	w := New(roots, exts, recursive, h, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		w.Stop()
		cancel()
	})
	require.NoError(t, w.Start(ctx))
	return w
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	h := &fakeHandler{}
	startWatcher(t, []string{dir}, []string{".txt"}, true, h)

	path := filepath.Join(dir, "notes.txt")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("revision "+string(rune('a'+i))), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.bin"), []byte("x"), 0644))

	require.Eventually(t, func() bool { return h.countIngested(path) >= 1 }, waitFor, tick)
	time.Sleep(200 * time.Millisecond)

	ingested, _ := h.snapshot()
	assert.Equal(t, []string{path}, ingested, "burst of writes should collapse into one ingest")
}

func TestWatcher_RemoveDeletesRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.md")
	require.NoError(t, os.WriteFile(path, []byte("# title"), 0644))

	h := &fakeHandler{}
	startWatcher(t, []string{dir}, nil, false, h)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, deleted := h.snapshot()
		return len(deleted) == 1
	}, waitFor, tick)

	_, deleted := h.snapshot()
	assert.Equal(t, path, deleted[0])
}

func TestWatcher_RenameDeletesOldAndIngestsNew(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "a.txt")
	newPath := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("hello"), 0644))

	h := &fakeHandler{}
	startWatcher(t, []string{dir}, []string{"txt"}, false, h)

	require.NoError(t, os.Rename(oldPath, newPath))
	require.Eventually(t, func() bool {
		_, deleted := h.snapshot()
		return len(deleted) == 1 && h.countIngested(newPath) == 1
	}, waitFor, tick)

	_, deleted := h.snapshot()
	assert.Equal(t, oldPath, deleted[0])
}

func TestWatcher_CreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not", "yet")
	h := &fakeHandler{}
	w := startWatcher(t, []string{root}, []string{".txt"}, true, h)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, []string{root}, w.Directories())

	path := filepath.Join(root, "late.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.Eventually(t, func() bool { return h.countIngested(path) == 1 }, waitFor, tick)
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0755))
	top := filepath.Join(dir, "top.csv")
	nested := filepath.Join(sub, "nested.json")
	require.NoError(t, os.WriteFile(top, []byte("a,b\n1,2\n"), 0644))
	require.NoError(t, os.WriteFile(nested, []byte(`{"a":1}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.exe"), []byte("x"), 0644))

	h := &fakeHandler{}
	w := startWatcher(t, []string{dir}, nil, true, h)
	w.SyncExistingFiles()

	ingested, _ := h.snapshot()
	assert.ElementsMatch(t, []string{top, nested}, ingested)
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	h := &fakeHandler{}
	startWatcher(t, []string{dir}, []string{".txt"}, true, h)

	sub := filepath.Join(dir, "new", "deeper")
	require.NoError(t, os.MkdirAll(sub, 0755))
	// Let the watcher register the new directories before writing into them.
	time.Sleep(200 * time.Millisecond)

	path := filepath.Join(sub, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.Eventually(t, func() bool { return h.countIngested(path) >= 1 }, waitFor, tick)
}

func TestWatcher_HandlerErrorKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	h := &fakeHandler{err: errors.New("boom")}
	startWatcher(t, []string{dir}, []string{".txt"}, false, h)

	first := filepath.Join(dir, "one.txt")
	second := filepath.Join(dir, "two.txt")
	require.NoError(t, os.WriteFile(first, []byte("1"), 0644))
	require.Eventually(t, func() bool { return h.countIngested(first) == 1 }, waitFor, tick)
	require.NoError(t, os.WriteFile(second, []byte("2"), 0644))
	require.Eventually(t, func() bool { return h.countIngested(second) == 1 }, waitFor, tick)
}

func TestWatcher_StopDropsPending(t *testing.T) {
	dir := t.TempDir()
	h := &fakeHandler{}
	w := New([]string{dir}, []string{".txt"}, false, h, WithDebounce(time.Hour))
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)
	w.Stop()
	w.Stop()

	ingested, _ := h.snapshot()
	assert.Empty(t, ingested)
}

// slowHandler holds every call for delay and records the highest number of overlapping calls
// seen for a single path.
type slowHandler struct {
	delay time.Duration

	mu        sync.Mutex
	active    map[string]int
	maxActive int
	calls     []string
}

func newSlowHandler(delay time.Duration) *slowHandler {
	return &slowHandler{delay: delay, active: make(map[string]int)}
}

func (h *slowHandler) enter(path, kind string) {
	h.mu.Lock()
	h.active[path]++
	if h.active[path] > h.maxActive {
		h.maxActive = h.active[path]
	}
	h.calls = append(h.calls, kind)
	h.mu.Unlock()

	time.Sleep(h.delay)

	h.mu.Lock()
	h.active[path]--
	h.mu.Unlock()
}

func (h *slowHandler) IngestFile(_ context.Context, path string) (*ingest.Result, error) {
	h.enter(path, "ingest")
	return &ingest.Result{Records: 1}, nil
}

func (h *slowHandler) DeleteDocument(_ context.Context, path, _ string) (int, error) {
	h.enter(path, "delete")
	return 1, nil
}

func (h *slowHandler) state() (calls []string, maxActive int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...), h.maxActive
}

func TestWatcher_WriteDuringIngestRunsAgainAfterwards(t *testing.T) {
	dir := t.TempDir()
	h := newSlowHandler(400 * time.Millisecond)
	startWatcher(t, []string{dir}, []string{".txt"}, false, h)

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0644))
	require.Eventually(t, func() bool {
		calls, _ := h.state()
		return len(calls) == 1
	}, waitFor, tick)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0644))
	require.Eventually(t, func() bool {
		calls, _ := h.state()
		return len(calls) == 2
	}, waitFor, tick)
	time.Sleep(600 * time.Millisecond)

	calls, maxActive := h.state()
	assert.Equal(t, []string{"ingest", "ingest"}, calls)
	assert.Equal(t, 1, maxActive, "ingests of one file must not overlap")
}

func TestWatcher_RemoveDuringIngestWaits(t *testing.T) {
	dir := t.TempDir()
	h := newSlowHandler(400 * time.Millisecond)
	startWatcher(t, []string{dir}, []string{".txt"}, false, h)

	path := filepath.Join(dir, "short-lived.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.Eventually(t, func() bool {
		calls, _ := h.state()
		return len(calls) == 1
	}, waitFor, tick)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		calls, _ := h.state()
		return len(calls) == 2
	}, waitFor, tick)

	calls, maxActive := h.state()
	assert.Equal(t, []string{"ingest", "delete"}, calls)
	assert.Equal(t, 1, maxActive, "delete must wait for the running ingest")
}

func TestWatcher_SyncIngestsEachFileOnce(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0644))

	h := newSlowHandler(50 * time.Millisecond)
	w := startWatcher(t, []string{dir}, []string{".txt"}, false, h)
	w.SyncExistingFiles()

	calls, maxActive := h.state()
	assert.Equal(t, []string{"ingest", "ingest"}, calls)
	assert.Equal(t, 1, maxActive)
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path string
		exts []string
		want bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{"txt"}, true},
		{"/a/b.md", []string{".txt", ".md"}, true},
		{"/a/b.pdf", []string{".txt"}, false},
		{"/a/b", []string{".txt"}, false},
		{"/a/b.pdf", nil, true},
		{"/a/b.xlsx", nil, true},
		{"/a/b.exe", nil, false},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.exts); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.exts, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/a", "/a", true},
		{"/a", "/a/b", true},
		{"/a", "/a/b/c", true},
		{"/a", "/ab", false},
		{"/a", "/b", false},
		{"/a/b", "/a", false},
		{"/a", "/a/..b", true},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
