package migration

import (
	"context"
	"io/fs"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
)

// MigrationsTable tracks the applied schema version.
const MigrationsTable = "retrainer_schema_migrations"

// Migrator handles database schema migrations.
type Migrator interface {
	// Up applies all pending migrations found below path in migrationFS.
	Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
	// Down rolls back all applied migrations.
	Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
	// Version returns the applied version. dirty reports a migration that failed halfway.
	Version(migrationFS fs.FS, path string, tableName string) (version uint, dirty bool, err error)
}

// MigratorProvider is a factory for creating Migrator instances.
type MigratorProvider interface {
	NewMigrator(dbConn database.DBConnection) Migrator
}
