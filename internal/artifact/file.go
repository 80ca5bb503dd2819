package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sourceplane/fareflow/internal/errs"
)

// FileStore maps s3://bucket/key onto Root/bucket/key on the local disk.
// It backs local runs where jobs write their outputs to a directory tree.
type FileStore struct {
	Root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

// Path returns the local file behind uri
func (s *FileStore) Path(uri string) (string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, bucket, filepath.FromSlash(key)), nil
}

func (s *FileStore) Get(_ context.Context, uri string) ([]byte, error) {
	path, err := s.Path(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("artifact %s: %w", uri, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", uri, err)
	}
	return data, nil
}

func (s *FileStore) Put(_ context.Context, uri string, data []byte) error {
	path, err := s.Path(uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", uri, err)
	}
	return nil
}
