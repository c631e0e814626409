package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperjump/kura/internal/models"
)

var _ Collection = (*PGVectorCollection)(nil)

// PGVectorCollection stores records in a Postgres table with a pgvector embedding column.
type PGVectorCollection struct {
	db         *sql.DB
	table      string
	dimensions int
}

// NewPGVectorCollection opens a connection pool for dsn and verifies it with a ping.
func NewPGVectorCollection(ctx context.Context, dsn, name string, dimensions int) (*PGVectorCollection, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("pgvector collection needs positive dimensions, got %d", dimensions)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &PGVectorCollection{db: db, table: pgx.Identifier{name}.Sanitize(), dimensions: dimensions}, nil
}

const pgColumns = `key, source_document_id, text, reference_description, reference_link,
	embedding, token_count, page_number, path, path_kind, node_type, parent_info, metadata`

// EnsureExists installs the vector extension and creates the records table.
func (p *PGVectorCollection) EnsureExists(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			source_document_id TEXT NOT NULL,
			text TEXT NOT NULL,
			reference_description TEXT NOT NULL DEFAULT '',
			reference_link TEXT NOT NULL DEFAULT '',
			embedding vector(%d),
			token_count INTEGER NOT NULL DEFAULT 0,
			page_number INTEGER NOT NULL DEFAULT 0,
			path TEXT NOT NULL DEFAULT '',
			path_kind TEXT NOT NULL DEFAULT '',
			node_type TEXT NOT NULL DEFAULT '',
			parent_info TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, p.table, p.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source_document_id)`,
			pgx.Identifier{indexName(p.table)}.Sanitize(), p.table),
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("bootstrap %s: %w", p.table, err)
		}
	}
	return nil
}

func indexName(table string) string {
	return strings.ReplaceAll(table, `"`, "") + "_source_idx"
}

// Get returns the records matching f ordered by key.
func (p *PGVectorCollection) Get(ctx context.Context, f Filter) ([]*models.TextRecord, error) {
	q := `SELECT ` + pgColumns + ` FROM ` + p.table + `
		WHERE ($1::text = '' OR source_document_id = $1)
		  AND (cardinality($2::text[]) = 0 OR key = ANY($2))
		ORDER BY key`
	args := []interface{}{f.SourceDocumentID, keysOrEmpty(f.Keys)}
	if f.Limit > 0 {
		q += ` LIMIT $3`
		args = append(args, f.Limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			w    row
			emb  pgvector.Vector
			meta string
		)
		if err := rows.Scan(&w.Key, &w.SourceDocumentID, &w.Text, &w.Description, &w.Link,
			&emb, &w.TokenCount, &w.PageNumber, &w.Path, &w.PathKind, &w.NodeType, &w.ParentInfo, &meta); err != nil {
			return nil, err
		}
		w.Embedding = emb.Slice()
		if w.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rowsToRecords(out)
}

func keysOrEmpty(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}

// Upsert writes recs in one transaction using INSERT ... ON CONFLICT.
func (p *PGVectorCollection) Upsert(ctx context.Context, recs []*models.TextRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO `+p.table+` (`+pgColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (key) DO UPDATE SET
			source_document_id = EXCLUDED.source_document_id,
			text = EXCLUDED.text,
			reference_description = EXCLUDED.reference_description,
			reference_link = EXCLUDED.reference_link,
			embedding = EXCLUDED.embedding,
			token_count = EXCLUDED.token_count,
			page_number = EXCLUDED.page_number,
			path = EXCLUDED.path,
			path_kind = EXCLUDED.path_kind,
			node_type = EXCLUDED.node_type,
			parent_info = EXCLUDED.parent_info,
			metadata = EXCLUDED.metadata`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		w, err := toRow(r, p.dimensions)
		if err != nil {
			return err
		}
		meta, err := encodeMetadata(w.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			w.Key, w.SourceDocumentID, w.Text, w.Description, w.Link,
			pgvector.NewVector(w.Embedding), w.TokenCount, w.PageNumber,
			w.Path, w.PathKind, w.NodeType, w.ParentInfo, meta,
		); err != nil {
			return fmt.Errorf("upsert record %s: %w", w.Key, err)
		}
	}
	return tx.Commit()
}

// Delete removes records by key.
func (p *PGVectorCollection) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM `+p.table+` WHERE key = ANY($1)`, keys)
	return err
}

// DeleteBySource removes every record of a source document.
func (p *PGVectorCollection) DeleteBySource(ctx context.Context, sourceDocumentID string) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM `+p.table+` WHERE source_document_id = $1`, sourceDocumentID)
	if err != nil {
		return 0, fmt.Errorf("delete records of %s: %w", sourceDocumentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Count returns the number of stored records.
func (p *PGVectorCollection) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+p.table).Scan(&n)
	return n, err
}

// Close closes the connection pool.
func (p *PGVectorCollection) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
