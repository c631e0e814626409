package models

import (
	"errors"
	"fmt"
)

// ErrKeyAlreadyAssigned is returned when a record's key would be replaced by a different one.
var ErrKeyAlreadyAssigned = errors.New("record key already assigned")

// Opt is an assign-once optional value.
type Opt[T any] struct {
	value T
	set   bool
}

// Some returns an Opt holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{value: v, set: true}
}

// IsSet reports whether a value has been assigned.
func (o Opt[T]) IsSet() bool { return o.set }

// Get returns the value and whether it was set.
func (o Opt[T]) Get() (T, bool) { return o.value, o.set }

// OrZero returns the value, or the zero value when unset.
func (o Opt[T]) OrZero() T { return o.value }

// SetIfAbsent assigns v only when no value is present. Returns true if v was stored.
func (o *Opt[T]) SetIfAbsent(v T) bool {
	if o.set {
		return false
	}
	o.value = v
	o.set = true
	return true
}

// PathKind identifies which structured format a record's Path belongs to.
type PathKind string

const (
	PathKindNone PathKind = ""
	PathKindJSON PathKind = "json"
	PathKindXML  PathKind = "xml"
	PathKindCSV  PathKind = "csv"
)

// Node types emitted by the structured converters.
const (
	NodeTypeValue     = "value"
	NodeTypeAttribute = "attribute"
	NodeTypeElement   = "element"
	NodeTypeRow       = "Row"
	NodeTypeSubRow    = "SubRow"
	NodeTypeSummary   = "Summary"
)

// Parent types for structured records.
const (
	ParentObject  = "object"
	ParentArray   = "array"
	ParentRoot    = "root"
	ParentElement = "element"
	ParentTable   = "table"
)

// TextRecord is the persisted unit: one embeddable chunk with provenance.
type TextRecord struct {
	key string

	// SourceDocumentID is the exact provenance key shared by every record of one document.
	SourceDocumentID string

	Text                 Opt[string]
	ReferenceDescription Opt[string]
	ReferenceLink        Opt[string]
	TextEmbedding        Opt[[]float32]
	TokenCount           Opt[int]

	PageNumber int

	Path       string
	PathKind   PathKind
	NodeType   string
	ParentInfo string

	Metadata map[string]string
}

// NewTextRecord returns a record with Text already assigned.
func NewTextRecord(text string, page int) *TextRecord {
	return &TextRecord{Text: Some(text), PageNumber: page}
}

// Key returns the record key, or "" when not yet assigned.
func (r *TextRecord) Key() string { return r.key }

// SetKey assigns the record key. Re-assigning the same key is a no-op;
// assigning a different key fails.
func (r *TextRecord) SetKey(k string) error {
	if k == "" {
		return fmt.Errorf("empty record key")
	}
	if r.key != "" && r.key != k {
		return fmt.Errorf("%w: %s", ErrKeyAlreadyAssigned, r.key)
	}
	r.key = k
	return nil
}

// JSONPath returns Path when the record came from the JSON flattener.
func (r *TextRecord) JSONPath() string { return r.pathIf(PathKindJSON) }

// XMLPath returns Path when the record came from the XML flattener.
func (r *TextRecord) XMLPath() string { return r.pathIf(PathKindXML) }

// CSVPath returns Path when the record came from the table chunker.
func (r *TextRecord) CSVPath() string { return r.pathIf(PathKindCSV) }

func (r *TextRecord) pathIf(kind PathKind) string {
	if r.PathKind != kind {
		return ""
	}
	return r.Path
}

// RawContent is one unit of extracted material: either text or an image, with its 1-based page.
type RawContent struct {
	Text       string
	Image      []byte
	ImageMIME  string
	PageNumber int
}

// IsImage reports whether the content carries image bytes.
func (c RawContent) IsImage() bool { return len(c.Image) > 0 }
