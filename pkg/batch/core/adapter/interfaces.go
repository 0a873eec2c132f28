// Package adapter defines the contracts shared by every resource adapter (databases, object stores).
package adapter

import (
	"context"
)

// ResourceConnection represents a generic connection to any resource (e.g., database, storage).
type ResourceConnection interface {
	// Close closes the resource connection.
	Close() error
	// Type returns the type of the resource (e.g., "sqlite", "gcs").
	Type() string
	// Name returns the connection name (e.g., "metadata", "default").
	Name() string
}

// ResourceProvider provides resource connections based on configuration.
type ResourceProvider interface {
	// GetConnection retrieves a resource connection with the specified name.
	GetConnection(name string) (ResourceConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the type of resource handled by this provider.
	Type() string
	// Name returns the unique name of this resource provider.
	Name() string
}

// ResourceConnectionResolver resolves a named connection, re-establishing it if necessary.
type ResourceConnectionResolver interface {
	ResolveConnection(ctx context.Context, name string) (ResourceConnection, error)
}
