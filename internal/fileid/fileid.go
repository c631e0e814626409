// Package fileid derives the stable provenance key shared by every record of a document.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const (
	prefix     = "file:"
	namePrefix = "name:"
)

// FileDocID returns a stable document ID for the given absolute path.
// Same path always yields the same ID. Used to find and replace a document's records.
func FileDocID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// DocumentID returns the ID for a document. Documents with a path are keyed by their absolute
// path; in-memory documents without one are keyed by file name. A file:// scheme is ignored.
func DocumentID(path, fileName string) string {
	path = strings.TrimPrefix(strings.TrimSpace(path), "file://")
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return FileDocID(path)
	}
	hash := sha256.Sum256([]byte(filepath.Base(strings.TrimPrefix(fileName, "file://"))))
	return namePrefix + hex.EncodeToString(hash[:])
}
