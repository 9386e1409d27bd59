// Package storage defines the object-storage collaborator used by the
// scan pipeline and the download gate.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the narrow interface the core needs from object storage.
type ObjectStore interface {
	// Get retrieves the full object at path.
	Get(ctx context.Context, path string) ([]byte, error)

	// Put writes an object at path.
	Put(ctx context.Context, path string, content []byte) error

	// Delete removes the object at path. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, path string) error

	// SignedURL returns a time-limited URL granting read access to path.
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}
