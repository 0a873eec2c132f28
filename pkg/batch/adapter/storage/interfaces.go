// Package storage defines the object store contract used by the retrain stages, plus the helpers
// built on top of it (URI parsing, prefix moves, retries, connection resolution).
//
// Buckets and object names follow GCS conventions: object names use "/" separators and
// "directories" are nothing more than shared name prefixes.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	coreAdapter "github.com/tigerroll/retrainer/pkg/batch/core/adapter"
)

// ErrObjectNotFound is returned (wrapped) by Download, Copy and DeleteObject for a missing object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Name    string
	Size    int64
	Updated time.Time
}

// StorageExecutor defines generic storage operations.
type StorageExecutor interface {
	// Upload writes data to bucket/objectName, replacing any existing object.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens bucket/objectName. The caller must close the returned reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object whose name starts with prefix, in lexical order.
	// Returning an error from fn stops the listing and is returned as is.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(ObjectInfo) error) error
	// Exists reports whether bucket/objectName exists.
	Exists(ctx context.Context, bucket, objectName string) (bool, error)
	// Copy copies an object server side.
	Copy(ctx context.Context, srcBucket, srcObject, dstBucket, dstObject string) error
	// DeleteObject deletes the specified object from the bucket.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection is a named, typed connection to an object store.
type StorageConnection interface {
	coreAdapter.ResourceConnection
	StorageExecutor
}

// StorageProvider manages the acquisition and lifecycle of connections of one adapter type.
type StorageProvider interface {
	// GetConnection retrieves the connection with the specified name, creating it on first use.
	GetConnection(name string) (StorageConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the adapter type handled by this provider, e.g. "gcs".
	Type() string
	// ForceReconnect closes and re-creates the named connection.
	ForceReconnect(name string) (StorageConnection, error)
}

// StorageConnectionResolver picks the provider for a named connection and returns the connection.
type StorageConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}
