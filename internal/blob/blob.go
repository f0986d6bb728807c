// Package blob stores artifact bytes under canonical, identifier-derived paths.
package blob

import "context"

// Store is a byte-oriented object store. Paths are slash-separated and
// relative; Load of a missing path fails with errors.ErrNotFound.
type Store interface {
	Save(ctx context.Context, path string, data []byte, contentType string) error
	Load(ctx context.Context, path string) ([]byte, error)
	// Check reports whether the backend is reachable.
	Check(ctx context.Context) error
	// Name identifies the backend in logs and metrics.
	Name() string
}
