package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/fileid"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/vectorstore"
)

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// IngestFile ingests the file at path with the content type derived from its extension. The
// file is skipped when its records already carry the same modification time and size.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*Result, error) {
	absPath, err := filepath.Abs(models.StripFileScheme(path))
	if err != nil {
		return nil, stageErr(StageValidate, fmt.Errorf("absolute path: %w", err))
	}
	if ext := filepath.Ext(absPath); !p.extensionAllowed(ext) {
		return nil, stageErr(StageValidate, fmt.Errorf("%w: extension %q not in allowed list", models.ErrUnsupportedContentType, ext))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, stageErr(StageValidate, fmt.Errorf("stat file: %w", err))
	}
	if !info.Mode().IsRegular() {
		return nil, stageErr(StageValidate, fmt.Errorf("not a regular file: %s", absPath))
	}

	if p.unchanged(ctx, absPath, info) {
		p.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return &Result{DocumentID: fileid.FileDocID(absPath), Skipped: true}, nil
	}
	return p.Ingest(ctx, &models.DocumentRequest{
		Path: absPath,
		Metadata: map[string]string{
			metaKeySourcePath:  absPath,
			metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	})
}

// unchanged reports whether the stored records of absPath were ingested from a file with the
// same mtime and size. Lookup failures count as changed.
func (p *Pipeline) unchanged(ctx context.Context, absPath string, info os.FileInfo) bool {
	if err := p.collection.EnsureExists(ctx); err != nil {
		return false
	}
	recs, err := p.collection.Get(ctx, vectorstore.Filter{SourceDocumentID: fileid.FileDocID(absPath), Limit: 1})
	if err != nil || len(recs) == 0 {
		return false
	}
	meta := recs[0].Metadata
	if meta[metaKeySourcePath] != absPath {
		return false
	}
	// Stored as strings; UnixNano exceeds float64 precision.
	return meta[metaKeySourceMtime] == strconv.FormatInt(info.ModTime().UnixNano(), 10) &&
		meta[metaKeySourceSize] == strconv.FormatInt(info.Size(), 10)
}

// IngestDirectory walks dir recursively and ingests each regular file with an allowed
// extension. Returns the number of files ingested (skipped files excluded) and the first
// error encountered, if any.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !p.extensionAllowed(filepath.Ext(path)) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		res, ingestErr := p.IngestFile(ctx, path)
		if ingestErr != nil {
			return fmt.Errorf("%s: %w", path, ingestErr)
		}
		if !res.Skipped {
			n++
		}
		return nil
	})
	return n, err
}

// extensionAllowed checks ext against the configured list, or against the known content types
// when no list is configured.
func (p *Pipeline) extensionAllowed(ext string) bool {
	if len(p.extensions) == 0 {
		return models.ContentTypeFromExtension(ext) != ""
	}
	return extensionAllowed(ext, p.extensions)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
