// Package watcher keeps a collection in step with directories on disk: created or modified files
// are re-ingested after a quiet period, removed or renamed files have their records deleted.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/ingest"
	"github.com/hyperjump/kura/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// Handler applies file changes to the collection. *ingest.Pipeline implements it.
type Handler interface {
	IngestFile(ctx context.Context, path string) (*ingest.Result, error)
	DeleteDocument(ctx context.Context, path, fileName string) (int, error)
}

// Watcher watches root directories and forwards debounced changes to a Handler.
type Watcher struct {
	roots      []string
	extensions []string
	recursive  bool
	handler    Handler
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	ctx      context.Context
	pending  map[string]*time.Timer
	active   map[string]*pathRun
	inflight sync.WaitGroup
	stopped  bool
	done     chan struct{}
	stopOnce sync.Once
}

type op int

const (
	opIngest op = iota + 1
	opRemove
)

// pathRun tracks a handler call in progress for one path. next is the latest change that arrived
// while it ran.
type pathRun struct {
	next op
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must be quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New returns a watcher for roots. extensions filters files; when empty every extension with a
// known content type is accepted.
func New(roots, extensions []string, recursive bool, h Handler, opts ...Option) *Watcher {
	w := &Watcher{
		roots:      append([]string(nil), roots...),
		extensions: extensions,
		recursive:  recursive,
		handler:    h,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		active:     make(map[string]*pathRun),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. Missing roots are created. The watcher runs until ctx is cancelled or
// Stop is called; handler calls use ctx.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for i, root := range w.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			_ = fsw.Close()
			return err
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			_ = fsw.Close()
			return err
		}
		if err := w.addTree(fsw, abs); err != nil {
			_ = fsw.Close()
			return err
		}
		w.roots[i] = abs
	}
	w.fsw = fsw
	w.ctx = ctx
	w.logger.Info("watching directories", zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))
	go w.run(ctx, fsw)
	return nil
}

// addTree registers dir, and its subdirectories when recursive.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	if !w.recursive {
		return fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	path := ev.Name
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("file event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(fsw, path)
			return
		}
		if w.matchExtension(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if w.matchExtension(path) {
			w.submit(w.currentContext(), path, opRemove)
		}
	}
}

// handleNewDirectory watches a directory that appeared under a root and ingests its files.
func (w *Watcher) handleNewDirectory(fsw *fsnotify.Watcher, dir string) {
	if w.recursive {
		if err := w.addTree(fsw, dir); err != nil {
			w.logger.Warn("failed to watch new directory", zap.String("path", dir), zap.Error(err))
		}
	}
	w.syncDirectory(dir)
}

func (w *Watcher) underRoot(path string) bool {
	clean := filepath.Clean(path)
	for _, root := range w.roots {
		if inDir(root, clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) matchExtension(path string) bool {
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	if len(extensions) == 0 {
		return models.ContentTypeFromExtension(ext) != ""
	}
	extNorm := strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == extNorm {
			return true
		}
	}
	return false
}

// schedule ingests path once it has been quiet for the debounce period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		ctx := w.ctx
		w.mu.Unlock()
		w.submit(ctx, path, opIngest)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// submit runs o for path on the calling goroutine. Calls for one path never overlap: when path is
// busy the change is recorded and replayed once the running call returns, the latest change winning.
func (w *Watcher) submit(ctx context.Context, path string, o op) {
	w.mu.Lock()
	if w.stopped || ctx == nil || ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	if run, ok := w.active[path]; ok {
		run.next = o
		w.mu.Unlock()
		return
	}
	run := &pathRun{}
	w.active[path] = run
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	for {
		switch o {
		case opIngest:
			w.ingest(ctx, path)
		case opRemove:
			w.remove(ctx, path)
		}
		w.mu.Lock()
		o, run.next = run.next, 0
		if o == 0 || w.stopped || ctx.Err() != nil {
			delete(w.active, path)
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	res, err := w.handler.IngestFile(ctx, path)
	if err != nil {
		w.logger.Error("ingest failed", zap.String("path", path), zap.Error(err))
		return
	}
	if res.Skipped {
		w.logger.Debug("file unchanged", zap.String("path", path))
		return
	}
	w.logger.Info("file ingested", zap.String("path", path), zap.Int("records", res.Records), zap.Int("deleted", res.Deleted))
}

func (w *Watcher) remove(ctx context.Context, path string) {
	n, err := w.handler.DeleteDocument(ctx, path, "")
	if err != nil {
		w.logger.Error("delete failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("file removed", zap.String("path", path), zap.Int("records", n))
}

func (w *Watcher) currentContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctx
}

func (w *Watcher) syncDirectory(root string) {
	ctx := w.currentContext()
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if w.matchExtension(path) {
			w.submit(ctx, path, opIngest)
		}
		return nil
	})
}

// SyncExistingFiles ingests the matching files already present under every root. Call it after
// Start; unchanged files are skipped by the handler.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Stop stops watching, drops pending changes and waits for in-flight handler calls.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw := w.fsw
	w.stopped = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.stopOnce.Do(func() {
		close(w.done)
		if fsw != nil {
			_ = fsw.Close()
		}
	})
	w.inflight.Wait()
}
