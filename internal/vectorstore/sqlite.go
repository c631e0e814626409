package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kura/internal/models"
)

var _ Collection = (*SQLiteCollection)(nil)

// SQLiteCollection stores records in one SQLite table. Embeddings are little-endian float32 BLOBs.
type SQLiteCollection struct {
	db         *sql.DB
	table      string
	dimensions int
}

// NewSQLiteCollection opens or creates the database at dbPath. Parent directories are created if
// they do not exist. The table is created by EnsureExists.
func NewSQLiteCollection(dbPath, collection string, dimensions int) (*SQLiteCollection, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if collection == "" {
		collection = "text_records"
	}
	return &SQLiteCollection{db: db, table: quoteIdent(collection), dimensions: dimensions}, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

const sqliteColumns = `key, source_document_id, text, reference_description, reference_link,
	embedding, token_count, page_number, path, path_kind, node_type, parent_info, metadata`

// EnsureExists creates the records table and its source index.
func (s *SQLiteCollection) EnsureExists(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		key TEXT PRIMARY KEY,
		source_document_id TEXT NOT NULL,
		text TEXT NOT NULL,
		reference_description TEXT,
		reference_link TEXT,
		embedding BLOB,
		token_count INTEGER NOT NULL DEFAULT 0,
		page_number INTEGER NOT NULL DEFAULT 0,
		path TEXT,
		path_kind TEXT,
		node_type TEXT,
		parent_info TEXT,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s(source_document_id);
	`, s.table, quoteIdent("idx_"+strings.Trim(s.table, `"`)+"_source"))
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Get returns the records matching f ordered by key.
func (s *SQLiteCollection) Get(ctx context.Context, f Filter) ([]*models.TextRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.SourceDocumentID != "" {
		where = append(where, "source_document_id = ?")
		args = append(args, f.SourceDocumentID)
	}
	if len(f.Keys) > 0 {
		where = append(where, "key IN ("+strings.TrimSuffix(strings.Repeat("?,", len(f.Keys)), ",")+")")
		for _, k := range f.Keys {
			args = append(args, k)
		}
	}
	q := "SELECT " + sqliteColumns + " FROM " + s.table
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY key"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			w                                              row
			desc, link, path, kind, nodeType, parent, meta sql.NullString
			blob                                           []byte
		)
		if err := rows.Scan(&w.Key, &w.SourceDocumentID, &w.Text, &desc, &link,
			&blob, &w.TokenCount, &w.PageNumber, &path, &kind, &nodeType, &parent, &meta); err != nil {
			return nil, err
		}
		w.Description, w.Link = desc.String, link.String
		w.Path, w.PathKind, w.NodeType, w.ParentInfo = path.String, kind.String, nodeType.String, parent.String
		w.Embedding = bytesToFloat32Slice(blob)
		if w.Metadata, err = decodeMetadata(meta.String); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rowsToRecords(out)
}

// Upsert writes recs in one transaction, replacing rows with the same key.
func (s *SQLiteCollection) Upsert(ctx context.Context, recs []*models.TextRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO `+s.table+` (`+sqliteColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		w, err := toRow(r, s.dimensions)
		if err != nil {
			return err
		}
		meta, err := encodeMetadata(w.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			w.Key, w.SourceDocumentID, w.Text, w.Description, w.Link,
			float32SliceToBytes(w.Embedding), w.TokenCount, w.PageNumber,
			w.Path, w.PathKind, w.NodeType, w.ParentInfo, meta,
		); err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", w.Key, err)
		}
	}
	return tx.Commit()
}

// Delete removes records by key in one transaction.
func (s *SQLiteCollection) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM `+s.table+` WHERE key = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteBySource removes every record of a source document in one statement.
func (s *SQLiteCollection) DeleteBySource(ctx context.Context, sourceDocumentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE source_document_id = ?`, sourceDocumentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records of %s: %w", sourceDocumentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Count returns the number of stored records.
func (s *SQLiteCollection) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteCollection) Close() error {
	return s.db.Close()
}
