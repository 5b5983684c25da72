// Package storage archives finished mirror runs. A run's output tree is
// uploaded object by object through an ObjectWriter, which keeps the archive
// target (Cloud Storage, memory) independent of the walk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ObjectWriter stores a single object and reports where it lives.
type ObjectWriter interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	URI(path string) string
}

// ArchiveResult describes an uploaded run.
type ArchiveResult struct {
	URI     string `json:"uri"`
	Objects int    `json:"objects"`
	Bytes   int64  `json:"bytes"`
}

// Archiver copies a run's output tree somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, runID uuid.UUID, root string) (ArchiveResult, error)
}

// TreeArchiver uploads every regular file below a run root to Writer under
// <Prefix>/<run id>/<relative path>.
type TreeArchiver struct {
	Writer ObjectWriter
	Prefix string
}

// Archive implements Archiver.
func (a TreeArchiver) Archive(ctx context.Context, runID uuid.UUID, root string) (ArchiveResult, error) {
	if a.Writer == nil {
		return ArchiveResult{}, errors.New("archive writer is required")
	}
	base := path.Join(strings.Trim(a.Prefix, "/"), runID.String())
	result := ArchiveResult{URI: a.Writer.URI(base + "/")}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", p, err)
		}
		n, err := a.upload(ctx, p, path.Join(base, filepath.ToSlash(rel)))
		if err != nil {
			return err
		}
		result.Objects++
		result.Bytes += n
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("archive %s: %w", root, err)
	}
	return result, nil
}

func (a TreeArchiver) upload(ctx context.Context, localPath, objectPath string) (int64, error) {
	f, err := os.Open(localPath) // #nosec G304 -- path comes from walking the run root
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close() //nolint:errcheck // read-only
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", localPath, err)
	}
	if _, err := a.Writer.PutObject(ctx, objectPath, ContentTypeFor(localPath), f); err != nil {
		return 0, fmt.Errorf("upload %s: %w", objectPath, err)
	}
	return info.Size(), nil
}

// ContentTypeFor guesses a content type from the file extension.
func ContentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// NoOpArchiver skips archiving. It is used when no archive target is configured.
type NoOpArchiver struct{}

// Archive returns an empty result.
func (NoOpArchiver) Archive(context.Context, uuid.UUID, string) (ArchiveResult, error) {
	return ArchiveResult{}, nil
}
