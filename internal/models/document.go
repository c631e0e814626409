// Package models defines core data structures for ingestion requests, extracted content, and persisted records.
package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrMissingSource is returned when a request has neither a path nor in-memory content.
	ErrMissingSource = errors.New("document has no path or content")
	// ErrMissingFileName is returned when no file name is declared and none can be derived from the path.
	ErrMissingFileName = errors.New("document has no file name")
)

// DocumentRequest describes one document to ingest.
type DocumentRequest struct {
	// Path is a local file path. Either Path or Content must be set.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Content holds in-memory bytes; when set, Path is only used for provenance.
	Content []byte `json:"-" yaml:"-"`
	// FileName is the declared file name; defaults to the base name of Path.
	FileName string `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	// ContentType is the declared MIME type; when empty it is derived from the file extension.
	ContentType     string            `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	BatchSize       int               `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	InterBatchDelay time.Duration     `json:"inter_batch_delay,omitempty" yaml:"inter_batch_delay,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate checks the request without touching the filesystem and returns the resolved content type.
// It fills FileName from Path when unset.
func (r *DocumentRequest) Validate() (ContentType, error) {
	if strings.TrimSpace(r.Path) == "" && len(r.Content) == 0 {
		return "", ErrMissingSource
	}
	if strings.TrimSpace(r.FileName) == "" && strings.TrimSpace(r.Path) != "" {
		r.FileName = filepath.Base(StripFileScheme(r.Path))
	}
	if strings.TrimSpace(r.FileName) == "" {
		return "", ErrMissingFileName
	}
	if r.ContentType == "" {
		ct := ContentTypeFromExtension(filepath.Ext(r.FileName))
		if ct == "" {
			return "", fmt.Errorf("%w: extension %q", ErrUnsupportedContentType, filepath.Ext(r.FileName))
		}
		return ct, nil
	}
	return ParseContentType(r.ContentType)
}

// DisplayName returns the file name used in provenance, without any file:// prefix or directories.
func (r *DocumentRequest) DisplayName() string {
	name := StripFileScheme(r.FileName)
	if name == "" {
		name = StripFileScheme(r.Path)
	}
	return filepath.Base(name)
}

// StripFileScheme removes a leading file:// scheme, if present.
func StripFileScheme(s string) string {
	return strings.TrimPrefix(s, "file://")
}
