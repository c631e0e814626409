// Package cli formats kura command output.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kura/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates s. An empty string means OutputText.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// StatusConfig is the configuration echoed by the status command.
type StatusConfig struct {
	Backend             string `json:"backend"`
	Collection          string `json:"collection,omitempty"`
	DatabasePath        string `json:"database_path,omitempty"`
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingModel      string `json:"embedding_model,omitempty"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`
	VisionProvider      string `json:"vision_provider,omitempty"`
	MaxTokens           int    `json:"max_tokens,omitempty"`
	BatchSize           int    `json:"batch_size,omitempty"`
}

// Status is the output of the status command.
type Status struct {
	Records        int64         `json:"records"`
	DiskUsageBytes *int64        `json:"disk_usage_bytes,omitempty"`
	Config         *StatusConfig `json:"config,omitempty"`
}

// WriteStatus writes s to w in the given format. Unknown formats are written as text.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "records:            %d   # records in the collection\n", s.Records)
	if s.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # database files on disk\n", *s.DiskUsageBytes)
	}
	if c := s.Config; c != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "backend:            %s\n", c.Backend)
		if c.Collection != "" {
			fmt.Fprintf(w, "collection:         %s\n", c.Collection)
		}
		if c.DatabasePath != "" {
			fmt.Fprintf(w, "database_path:      %s\n", c.DatabasePath)
		}
		fmt.Fprintf(w, "embedding:          %s %s\n", c.EmbeddingProvider, c.EmbeddingModel)
		if c.EmbeddingDimensions > 0 {
			fmt.Fprintf(w, "embedding_dims:     %d\n", c.EmbeddingDimensions)
		}
		if c.VisionProvider != "" {
			fmt.Fprintf(w, "vision:             %s\n", c.VisionProvider)
		}
		if c.MaxTokens > 0 {
			fmt.Fprintf(w, "max_tokens:         %d\n", c.MaxTokens)
		}
		if c.BatchSize > 0 {
			fmt.Fprintf(w, "batch_size:         %d\n", c.BatchSize)
		}
	}
	return nil
}

// IngestSummary is the output of the ingest command. Files is set for directories; the record
// counts are set for single files.
type IngestSummary struct {
	Path       string `json:"path"`
	DocumentID string `json:"document_id,omitempty"`
	Files      int    `json:"files,omitempty"`
	Records    int    `json:"records"`
	Deleted    int    `json:"deleted"`
	Batches    int    `json:"batches,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// WriteIngestSummary writes s to w in the given format.
func WriteIngestSummary(w io.Writer, s *IngestSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	path := utils.Truncate(s.Path, 120)
	switch {
	case s.Skipped:
		fmt.Fprintf(w, "Unchanged: %s\n", path)
	case s.DocumentID == "":
		fmt.Fprintf(w, "Ingested %d files from %s\n", s.Files, path)
	default:
		fmt.Fprintf(w, "Ingested %s: %d records in %d batches (%d stale records replaced)\n",
			path, s.Records, s.Batches, s.Deleted)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
