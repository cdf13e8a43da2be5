package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

// FileBlobs stores blobs as files under a base directory.
type FileBlobs struct {
	baseDir string
}

// NewFileBlobs creates baseDir if needed.
func NewFileBlobs(baseDir string) (*FileBlobs, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure archive dir: %w", err)
	}
	return &FileBlobs{baseDir: baseDir}, nil
}

func (b *FileBlobs) path(key string) (string, error) {
	p := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if !strings.HasPrefix(p, filepath.Clean(b.baseDir)+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key %q escapes archive dir", internalerr.ErrInvalidInput, key)
	}
	return p, nil
}

// Put writes data atomically through a temp file and rename.
func (b *FileBlobs) Put(ctx context.Context, key string, data []byte) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".blob-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("commit blob: %w", err)
	}
	return nil
}

// Get reads a blob.
func (b *FileBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", key, internalerr.ErrNotFound)
	}
	return data, err
}

func (b *FileBlobs) Close() error { return nil }
