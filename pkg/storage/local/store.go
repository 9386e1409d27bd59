// Package local provides a filesystem-backed object store for development
// and tests.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/hashicorp-forge/docgate/pkg/storage"
)

// Store implements storage.ObjectStore on an afero filesystem.
type Store struct {
	fs     afero.Fs
	root   string
	logger hclog.Logger
}

var _ storage.ObjectStore = (*Store)(nil)

// New creates a store rooted at dir on the OS filesystem.
func New(dir string, logger hclog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return NewWithFs(afero.NewOsFs(), abs, logger), nil
}

// NewWithFs creates a store on an arbitrary afero filesystem. Tests use
// this with afero.NewMemMapFs.
func NewWithFs(fs afero.Fs, root string, logger hclog.Logger) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{
		fs:     fs,
		root:   root,
		logger: logger.Named("local-store"),
	}
}

func (s *Store) fullPath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// Get implements storage.ObjectStore.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	content, err := afero.ReadFile(s.fs, s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return content, nil
}

// Put implements storage.ObjectStore.
func (s *Store) Put(ctx context.Context, path string, content []byte) error {
	full := s.fullPath(path)
	if err := s.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, full, content, 0o644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// Delete implements storage.ObjectStore. Deleting a missing object is
// not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.fs.Remove(s.fullPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Exists reports whether an object is present. Used by tests to verify
// quarantine removal.
func (s *Store) Exists(path string) (bool, error) {
	return afero.Exists(s.fs, s.fullPath(path))
}

// SignedURL implements storage.ObjectStore. Local storage has no access
// control, so the "signed" URL is just a file URL; ttl is ignored.
func (s *Store) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	ok, err := s.Exists(path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", storage.ErrObjectNotFound
	}
	return "file://" + filepath.ToSlash(s.fullPath(path)), nil
}
