// Package database defines the database connection contracts used by the SQL job repository
// and the schema migrator.
package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/retrainer/pkg/batch/adapter/database/config"
	coreAdapter "github.com/tigerroll/retrainer/pkg/batch/core/adapter"
)

// DBExecutor defines the read and write operations the repositories rely on.
type DBExecutor interface {
	// ExecuteUpdate performs a "CREATE", "UPDATE" or "DELETE" of model. For "UPDATE" and "DELETE",
	// query adds conditions to the WHERE clause (e.g. an optimistic lock on version).
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteQueryAdvanced loads rows matching query into target with optional ordering and limit.
	// An empty result is not an error.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error

	// Count counts the number of records matching the query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)
}

// DBConnection represents an abstraction of a database connection.
type DBConnection interface {
	coreAdapter.ResourceConnection
	DBExecutor

	// IsTableNotExistError checks if the given error indicates that a table does not exist.
	IsTableNotExistError(err error) bool
	// IsDuplicateKeyError checks if the given error is a unique constraint violation.
	IsDuplicateKeyError(err error) bool
	// RefreshConnection pings the database.
	RefreshConnection(ctx context.Context) error
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver resolves a named database connection, reconnecting it if it went stale.
type DBConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider creates and caches the connections of one database type.
type DBProvider interface {
	// GetConnection retrieves a database connection with the specified name.
	GetConnection(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider, e.g. "sqlite".
	Type() string
	// ForceReconnect forces the closure and re-establishment of the named connection.
	ForceReconnect(name string) (DBConnection, error)
}

// DBProviderGroup is the Fx value group collecting every DBProvider.
const DBProviderGroup = "db_providers"
