// Package docstore keeps uploaded documents for the duration of one
// extraction request.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps documents as files in one directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed and returns a store rooted there.
func NewLocalStore(dir string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("NewLocalStore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("NewLocalStore: create %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// Dir returns the directory documents are written to.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Save implements pipeline.DocumentStore.
func (s *LocalStore) Save(ctx context.Context, key string, content []byte, mimeType string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("LocalStore.Save: write %s: %w", path, err)
	}
	return nil
}

// Read implements pipeline.DocumentStore.
func (s *LocalStore) Read(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LocalStore.Read: read %s: %w", path, err)
	}
	return data, nil
}

// Delete implements pipeline.DocumentStore. Deleting a missing file is not an error.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("LocalStore.Delete: remove %s: %w", path, err)
	}
	return nil
}

// path keeps keys inside the store directory.
func (s *LocalStore) path(key string) (string, error) {
	name := filepath.Base(key)
	if name == "." || name == ".." || name == string(filepath.Separator) || name != key {
		return "", fmt.Errorf("invalid document key %q", key)
	}
	return filepath.Join(s.dir, name), nil
}
