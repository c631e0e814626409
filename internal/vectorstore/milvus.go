package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/hyperjump/kura/internal/models"
)

var _ Collection = (*MilvusCollection)(nil)

// Milvus field names.
const (
	fieldKey         = "key"
	fieldSource      = "source_document_id"
	fieldText        = "text"
	fieldDescription = "reference_description"
	fieldLink        = "reference_link"
	fieldEmbedding   = "embedding"
	fieldTokenCount  = "token_count"
	fieldPage        = "page_number"
	fieldPath        = "path"
	fieldPathKind    = "path_kind"
	fieldNodeType    = "node_type"
	fieldParent      = "parent_info"
	fieldMetadata    = "metadata"
)

var milvusOutputFields = []string{
	fieldKey, fieldSource, fieldText, fieldDescription, fieldLink, fieldEmbedding,
	fieldTokenCount, fieldPage, fieldPath, fieldPathKind, fieldNodeType, fieldParent, fieldMetadata,
}

// MilvusCollection stores records in a Milvus collection keyed by record key.
type MilvusCollection struct {
	client     client.Client
	name       string
	dimensions int
}

// NewMilvusCollection connects to the Milvus server at address.
func NewMilvusCollection(ctx context.Context, address, name string, dimensions int) (*MilvusCollection, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("milvus collection needs positive dimensions, got %d", dimensions)
	}
	c, err := client.NewClient(ctx, client.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", address, err)
	}
	return &MilvusCollection{client: c, name: name, dimensions: dimensions}, nil
}

func milvusSchema(name string, dims int) *entity.Schema {
	varchar := func(field string, maxLen int64) *entity.Field {
		return entity.NewField().WithName(field).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxLen)
	}
	return entity.NewSchema().
		WithName(name).
		WithDescription("kura text records").
		WithField(varchar(fieldKey, 512).WithIsPrimaryKey(true)).
		WithField(varchar(fieldSource, 512)).
		WithField(varchar(fieldText, 65535)).
		WithField(varchar(fieldDescription, 4096)).
		WithField(varchar(fieldLink, 8192)).
		WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dims))).
		WithField(entity.NewField().WithName(fieldTokenCount).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(fieldPage).WithDataType(entity.FieldTypeInt64)).
		WithField(varchar(fieldPath, 8192)).
		WithField(varchar(fieldPathKind, 16)).
		WithField(varchar(fieldNodeType, 64)).
		WithField(varchar(fieldParent, 64)).
		WithField(varchar(fieldMetadata, 65535))
}

// EnsureExists creates the collection with an AUTOINDEX on the embedding field when missing,
// then loads it.
func (m *MilvusCollection) EnsureExists(ctx context.Context) error {
	exists, err := m.client.HasCollection(ctx, m.name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", m.name, err)
	}
	if !exists {
		if err := m.client.CreateCollection(ctx, milvusSchema(m.name, m.dimensions), entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("create collection %s: %w", m.name, err)
		}
		idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
		if err != nil {
			return err
		}
		if err := m.client.CreateIndex(ctx, m.name, fieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("create index on %s: %w", fieldEmbedding, err)
		}
	}
	if err := m.client.LoadCollection(ctx, m.name, false); err != nil {
		return fmt.Errorf("load collection %s: %w", m.name, err)
	}
	return nil
}

// queryOptions reads at Strong consistency so rows upserted moments ago by a previous ingest are
// visible to the next one's stale-record lookup.
func queryOptions(limit int) []client.SearchQueryOptionFunc {
	opts := []client.SearchQueryOptionFunc{client.WithSearchQueryConsistencyLevel(entity.ClStrong)}
	if limit > 0 {
		opts = append(opts, client.WithLimit(int64(limit)))
	}
	return opts
}

// Get queries records by filter expression.
func (m *MilvusCollection) Get(ctx context.Context, f Filter) ([]*models.TextRecord, error) {
	rs, err := m.client.Query(ctx, m.name, nil, filterExpr(f), milvusOutputFields, queryOptions(f.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", m.name, err)
	}
	rows, err := columnsToRows(rs)
	if err != nil {
		return nil, err
	}
	return rowsToRecords(rows)
}

// Upsert writes recs column-wise, replacing rows with the same primary key.
func (m *MilvusCollection) Upsert(ctx context.Context, recs []*models.TextRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]row, 0, len(recs))
	for _, r := range recs {
		w, err := toRow(r, m.dimensions)
		if err != nil {
			return err
		}
		rows = append(rows, w)
	}
	cols, err := rowsToColumns(rows, m.dimensions)
	if err != nil {
		return err
	}
	if _, err := m.client.Upsert(ctx, m.name, "", cols...); err != nil {
		return fmt.Errorf("upsert %d records into %s: %w", len(rows), m.name, err)
	}
	return nil
}

// Delete removes records by key.
func (m *MilvusCollection) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := m.client.Delete(ctx, m.name, "", inExpr(fieldKey, keys)); err != nil {
		return fmt.Errorf("delete from %s: %w", m.name, err)
	}
	return nil
}

// DeleteBySource removes the records of one source document by expression. Only keys are read
// back to report the count.
func (m *MilvusCollection) DeleteBySource(ctx context.Context, sourceDocumentID string) (int, error) {
	expr := filterExpr(Filter{SourceDocumentID: sourceDocumentID})
	rs, err := m.client.Query(ctx, m.name, nil, expr, []string{fieldKey}, queryOptions(0)...)
	if err != nil {
		return 0, fmt.Errorf("query keys of %s in %s: %w", sourceDocumentID, m.name, err)
	}
	n := 0
	for _, col := range rs {
		if col.Name() == fieldKey {
			n = col.Len()
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := m.client.Delete(ctx, m.name, "", expr); err != nil {
		return 0, fmt.Errorf("delete %s from %s: %w", sourceDocumentID, m.name, err)
	}
	return n, nil
}

// Count returns the number of records via a count(*) query.
func (m *MilvusCollection) Count(ctx context.Context) (int64, error) {
	rs, err := m.client.Query(ctx, m.name, nil, "", []string{"count(*)"}, queryOptions(0)...)
	if err != nil {
		return 0, fmt.Errorf("count collection %s: %w", m.name, err)
	}
	for _, col := range rs {
		if c, ok := col.(*entity.ColumnInt64); ok && len(c.Data()) > 0 {
			return c.Data()[0], nil
		}
	}
	return 0, fmt.Errorf("count collection %s: no count column in result", m.name)
}

// Close closes the client connection.
func (m *MilvusCollection) Close() error {
	return m.client.Close()
}

// filterExpr renders f as a Milvus boolean expression. An unconstrained filter matches every key.
func filterExpr(f Filter) string {
	var parts []string
	if f.SourceDocumentID != "" {
		parts = append(parts, fieldSource+" == "+strconv.Quote(f.SourceDocumentID))
	}
	if len(f.Keys) > 0 {
		parts = append(parts, inExpr(fieldKey, f.Keys))
	}
	if len(parts) == 0 {
		return fieldKey + ` != ""`
	}
	return strings.Join(parts, " && ")
}

func inExpr(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return field + " in [" + strings.Join(quoted, ", ") + "]"
}

func rowsToColumns(rows []row, dims int) ([]entity.Column, error) {
	n := len(rows)
	var (
		keys, sources, texts, descs, links = make([]string, n), make([]string, n), make([]string, n), make([]string, n), make([]string, n)
		paths, kinds, nodeTypes, parents   = make([]string, n), make([]string, n), make([]string, n), make([]string, n)
		metas                              = make([]string, n)
		tokens, pages                      = make([]int64, n), make([]int64, n)
		vectors                            = make([][]float32, n)
	)
	for i, w := range rows {
		meta, err := encodeMetadata(w.Metadata)
		if err != nil {
			return nil, err
		}
		keys[i], sources[i], texts[i], descs[i], links[i] = w.Key, w.SourceDocumentID, w.Text, w.Description, w.Link
		paths[i], kinds[i], nodeTypes[i], parents[i] = w.Path, w.PathKind, w.NodeType, w.ParentInfo
		metas[i] = meta
		tokens[i], pages[i] = int64(w.TokenCount), int64(w.PageNumber)
		vectors[i] = w.Embedding
	}
	return []entity.Column{
		entity.NewColumnVarChar(fieldKey, keys),
		entity.NewColumnVarChar(fieldSource, sources),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldDescription, descs),
		entity.NewColumnVarChar(fieldLink, links),
		entity.NewColumnFloatVector(fieldEmbedding, dims, vectors),
		entity.NewColumnInt64(fieldTokenCount, tokens),
		entity.NewColumnInt64(fieldPage, pages),
		entity.NewColumnVarChar(fieldPath, paths),
		entity.NewColumnVarChar(fieldPathKind, kinds),
		entity.NewColumnVarChar(fieldNodeType, nodeTypes),
		entity.NewColumnVarChar(fieldParent, parents),
		entity.NewColumnVarChar(fieldMetadata, metas),
	}, nil
}

func columnsToRows(cols []entity.Column) ([]row, error) {
	var (
		n    = -1
		rows []row
	)
	for _, col := range cols {
		if n < 0 {
			n = col.Len()
			rows = make([]row, n)
		}
		if col.Len() != n {
			return nil, fmt.Errorf("column %s has %d values, want %d", col.Name(), col.Len(), n)
		}
		switch c := col.(type) {
		case *entity.ColumnVarChar:
			for i, v := range c.Data() {
				r := &rows[i]
				switch c.Name() {
				case fieldKey:
					r.Key = v
				case fieldSource:
					r.SourceDocumentID = v
				case fieldText:
					r.Text = v
				case fieldDescription:
					r.Description = v
				case fieldLink:
					r.Link = v
				case fieldPath:
					r.Path = v
				case fieldPathKind:
					r.PathKind = v
				case fieldNodeType:
					r.NodeType = v
				case fieldParent:
					r.ParentInfo = v
				case fieldMetadata:
					meta, err := decodeMetadata(v)
					if err != nil {
						return nil, err
					}
					r.Metadata = meta
				}
			}
		case *entity.ColumnInt64:
			for i, v := range c.Data() {
				switch c.Name() {
				case fieldTokenCount:
					rows[i].TokenCount = int(v)
				case fieldPage:
					rows[i].PageNumber = int(v)
				}
			}
		case *entity.ColumnFloatVector:
			for i, v := range c.Data() {
				rows[i].Embedding = v
			}
		}
	}
	return rows, nil
}
