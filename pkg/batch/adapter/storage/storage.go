// Package storage defines the object storage port used by file-producing
// writers. Backends live in subpackages; the local backend serves tests and
// single-machine runs, the gcs backend serves cloud runs.
package storage

import (
	"context"
	"io"
)

// Store is a bucket-scoped object store.
type Store interface {
	// Upload writes the data stream to the named object, replacing any
	// previous content.
	Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error
	// Download opens the named object for reading. The caller closes the
	// returned reader.
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	// List calls fn for each object name under the prefix. A non-nil error
	// from fn stops the listing and is returned.
	List(ctx context.Context, prefix string, fn func(objectName string) error) error
	// Delete removes the named object.
	Delete(ctx context.Context, objectName string) error
	// Close releases resources held by the store.
	Close() error
}
