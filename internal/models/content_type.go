package models

import (
	"errors"
	"fmt"
	"mime"
	"strings"
)

// ErrUnsupportedContentType is returned for content types the pipeline cannot ingest.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// ContentType is a normalized MIME type accepted by the pipeline.
type ContentType string

const (
	ContentTypePlain    ContentType = "text/plain"
	ContentTypeMarkdown ContentType = "text/markdown"
	ContentTypeHTML     ContentType = "text/html"
	ContentTypeJSON     ContentType = "application/json"
	ContentTypeXML      ContentType = "application/xml"
	ContentTypeCSV      ContentType = "text/csv"
	ContentTypePDF      ContentType = "application/pdf"
	ContentTypePNG      ContentType = "image/png"
	ContentTypeJPEG     ContentType = "image/jpeg"
	ContentTypeTIFF     ContentType = "image/tiff"
	ContentTypeXLSX     ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Kind groups content types by the orchestrator that handles them.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindImage
	KindPDF
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindPDF:
		return "pdf"
	default:
		return "unknown"
	}
}

var aliases = map[string]ContentType{
	"text/plain":            ContentTypePlain,
	"text/markdown":         ContentTypeMarkdown,
	"text/x-markdown":       ContentTypeMarkdown,
	"text/html":             ContentTypeHTML,
	"application/xhtml+xml": ContentTypeHTML,
	"application/json":      ContentTypeJSON,
	"text/json":             ContentTypeJSON,
	"application/xml":       ContentTypeXML,
	"text/xml":              ContentTypeXML,
	"text/csv":              ContentTypeCSV,
	"application/csv":       ContentTypeCSV,
	"application/pdf":       ContentTypePDF,
	"image/png":             ContentTypePNG,
	"image/jpeg":            ContentTypeJPEG,
	"image/jpg":             ContentTypeJPEG,
	"image/tiff":            ContentTypeTIFF,
	"image/tif":             ContentTypeTIFF,
	string(ContentTypeXLSX): ContentTypeXLSX,
}

var extensions = map[string]ContentType{
	".txt":      ContentTypePlain,
	".text":     ContentTypePlain,
	".log":      ContentTypePlain,
	".md":       ContentTypeMarkdown,
	".markdown": ContentTypeMarkdown,
	".html":     ContentTypeHTML,
	".htm":      ContentTypeHTML,
	".json":     ContentTypeJSON,
	".xml":      ContentTypeXML,
	".csv":      ContentTypeCSV,
	".pdf":      ContentTypePDF,
	".png":      ContentTypePNG,
	".jpg":      ContentTypeJPEG,
	".jpeg":     ContentTypeJPEG,
	".tif":      ContentTypeTIFF,
	".tiff":     ContentTypeTIFF,
	".xlsx":     ContentTypeXLSX,
}

// ParseContentType normalizes s (case, parameters such as charset) and returns the matching ContentType.
func ParseContentType(s string) (ContentType, error) {
	raw := strings.TrimSpace(s)
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		mt = strings.ToLower(raw)
	}
	if ct, ok := aliases[mt]; ok {
		return ct, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, s)
}

// ContentTypeFromExtension maps a file extension (with or without the dot) to a ContentType.
// Returns "" when the extension is unknown.
func ContentTypeFromExtension(ext string) ContentType {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return extensions[ext]
}

// Kind returns the orchestrator family for ct.
func (ct ContentType) Kind() Kind {
	switch ct {
	case ContentTypePlain, ContentTypeMarkdown, ContentTypeHTML,
		ContentTypeJSON, ContentTypeXML, ContentTypeCSV, ContentTypeXLSX:
		return KindText
	case ContentTypePNG, ContentTypeJPEG, ContentTypeTIFF:
		return KindImage
	case ContentTypePDF:
		return KindPDF
	default:
		return KindUnknown
	}
}

// SupportedExtensions returns the file extensions that map to a content type.
func SupportedExtensions() []string {
	out := make([]string, 0, len(extensions))
	for ext := range extensions {
		out = append(out, ext)
	}
	return out
}
