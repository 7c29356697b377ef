// Package localfs keeps uploaded source documents on the local filesystem.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Autopsias/raglite/internal/core/domain"
)

type Storage struct {
	root string
}

func New(root string) (*Storage, error) {
	if root == "" {
		root = "./data/storage"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{root: root}, nil
}

// Save writes to a temporary file and renames it into place, so readers never
// see a partially written document.
func (s *Storage) Save(ctx context.Context, key string, data io.Reader) error {
	const op = "save document"
	path, err := s.pathFor(op, key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: data}); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		committed = true
		return fmt.Errorf("commit file: %w", err)
	}
	committed = true
	return nil
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	const op = "open document"
	path, err := s.pathFor(op, key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, op, fmt.Errorf("no stored object %q", key))
	}
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// pathFor accepts flat keys only.
func (s *Storage) pathFor(op, key string) (string, error) {
	if key == "" || key == "." || strings.Contains(key, "..") || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".upload-") {
		return "", domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("invalid storage key %q", key))
	}
	return filepath.Join(s.root, key), nil
}

// contextReader stops a long copy once the request is gone.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
