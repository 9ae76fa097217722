package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore writes payload files to a local directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the output directory if needed and returns a
// store rooted there.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// Put writes data atomically using a temp file + rename. The temp file
// carries a random suffix so concurrent runs against the same directory
// never trip over each other, and it is removed if the rename fails.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tempPath := path + ".tmp." + uuid.New().String()

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		// Clean up temp file on rename failure
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}

	return nil
}

// URI returns the canonical URI for the given name.
func (s *LocalStore) URI(name string) string {
	return "file://" + filepath.Join(s.dir, name)
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

// Verify LocalStore implements Store.
var _ Store = (*LocalStore)(nil)
