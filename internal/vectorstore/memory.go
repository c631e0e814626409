package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/hyperjump/kura/internal/models"
)

var _ Collection = (*MemoryCollection)(nil)

// MemoryCollection keeps records in a map. Suitable for tests and dry runs.
type MemoryCollection struct {
	dimensions int
	rows       map[string]row
	mu         sync.RWMutex
}

// NewMemoryCollection returns an empty in-memory collection.
func NewMemoryCollection(dimensions int) *MemoryCollection {
	return &MemoryCollection{dimensions: dimensions, rows: make(map[string]row)}
}

// EnsureExists is a no-op.
func (m *MemoryCollection) EnsureExists(ctx context.Context) error { return nil }

// Get returns the records matching f ordered by key.
func (m *MemoryCollection) Get(ctx context.Context, f Filter) ([]*models.TextRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var wanted map[string]bool
	if len(f.Keys) > 0 {
		wanted = make(map[string]bool, len(f.Keys))
		for _, k := range f.Keys {
			wanted[k] = true
		}
	}

	m.mu.RLock()
	matched := make([]row, 0)
	for key, w := range m.rows {
		if wanted != nil && !wanted[key] {
			continue
		}
		if f.SourceDocumentID != "" && w.SourceDocumentID != f.SourceDocumentID {
			continue
		}
		matched = append(matched, w)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Key < matched[j].Key })
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return rowsToRecords(matched)
}

// Upsert stores copies of recs. Nothing is written if any record is invalid.
func (m *MemoryCollection) Upsert(ctx context.Context, recs []*models.TextRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := make([]row, 0, len(recs))
	for _, r := range recs {
		w, err := toRow(r, m.dimensions)
		if err != nil {
			return err
		}
		rows = append(rows, w)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range rows {
		m.rows[w.Key] = w
	}
	return nil
}

// Delete removes records by key. Unknown keys are ignored.
func (m *MemoryCollection) Delete(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.rows, k)
	}
	return nil
}

// DeleteBySource removes every record whose SourceDocumentID matches.
func (m *MemoryCollection) DeleteBySource(ctx context.Context, sourceDocumentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, w := range m.rows {
		if w.SourceDocumentID == sourceDocumentID {
			delete(m.rows, key)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored records.
func (m *MemoryCollection) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.rows)), nil
}

// Close is a no-op for MemoryCollection.
func (m *MemoryCollection) Close() error {
	return nil
}
