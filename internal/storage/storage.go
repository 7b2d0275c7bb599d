// Package storage provides the blob store that holds uploaded resumes and previews.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrNotFound is returned by Read for unknown paths
var ErrNotFound = errors.New("storage: object not found")

// Upload describes a stored object
type Upload struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Storage is the blob collaborator used by the pipeline
type Storage interface {
	Upload(ctx context.Context, data []byte, filename string) (*Upload, error)
	Read(ctx context.Context, path string) ([]byte, error)
}

// FS stores every upload under its own random directory on an afero filesystem,
// so repeated uploads of the same file name never overwrite each other.
type FS struct {
	fs afero.Fs
}

// NewFS wraps an afero filesystem
func NewFS(fs afero.Fs) *FS {
	return &FS{fs: fs}
}

// NewDir returns an FS rooted at dir on the local disk, creating dir if needed
func NewDir(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
	}
	return NewFS(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewMemory returns an FS held entirely in memory
func NewMemory() *FS {
	return NewFS(afero.NewMemMapFs())
}

// Upload writes data and returns its storage path
func (s *FS) Upload(ctx context.Context, data []byte, filename string) (*Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := sanitizeFilename(filename)
	p := path.Join(uuid.NewString(), name)

	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}
	return &Upload{Path: p, Size: int64(len(data))}, nil
}

// Read returns the bytes stored at p
func (s *FS) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, clean)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

// cleanPath rejects absolute paths and paths that climb out of the store
func cleanPath(p string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid storage path %q", p)
	}
	return clean, nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == 0:
			return '_'
		case r < 0x20:
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}
