// Package local implements the on-disk output tree for a mirror run.
package local

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const defaultChunkSize = 8192

// Config captures the parameters for the local output tree.
type Config struct {
	// BaseDir is the run root where pages and resource folders are written.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store writes pages and resources below a base directory.
type Store struct {
	baseDir string
}

// New creates the base directory when missing and verifies it is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.BaseDir, ".writable_test-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := probe.Close(); err != nil {
		return nil, fmt.Errorf("failed to close probe file: %w", err)
	}
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up probe file: %w", err)
	}

	return &Store{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Root returns the absolute or working-directory-relative base directory.
func (s *Store) Root() string {
	return s.baseDir
}

// Exists reports whether a regular file is present at rel.
func (s *Store) Exists(rel string) bool {
	full, err := s.resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}

// Put streams r into rel using chunkSize-byte copies. The data lands in a
// temporary file first so a failed transfer never leaves a partial file at rel.
func (s *Store) Put(ctx context.Context, rel string, r io.Reader, chunkSize int) (int64, error) {
	full, err := s.resolve(rel)
	if err != nil {
		return 0, err
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	// Wrapping both sides keeps io.CopyBuffer on the chunked path instead of
	// ReadFrom/WriteTo shortcuts.
	n, err := io.CopyBuffer(
		struct{ io.Writer }{tmp},
		struct{ io.Reader }{contextReader{ctx: ctx, r: r}},
		make([]byte, chunkSize),
	)
	if err != nil {
		_ = tmp.Close()
		return n, fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return n, fmt.Errorf("failed to move %s into place: %w", rel, err)
	}
	committed = true
	return n, nil
}

// PutBytes writes data to rel.
func (s *Store) PutBytes(ctx context.Context, rel string, data []byte) error {
	_, err := s.Put(ctx, rel, bytes.NewReader(data), defaultChunkSize)
	return err
}

func (s *Store) resolve(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("path is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(rel)))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, fmt.Errorf("write canceled: %w", err)
	}
	return c.r.Read(p)
}
