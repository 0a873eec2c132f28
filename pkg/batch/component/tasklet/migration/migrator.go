package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// migratorImpl runs golang-migrate against the *sql.DB of a DBConnection.
// Closing the migrate instance also closes that *sql.DB, so callers reconnect afterwards.
type migratorImpl struct {
	dbConn database.DBConnection
	dbType string
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(dbConn database.DBConnection) Migrator {
	return &migratorImpl{
		dbConn: dbConn,
		dbType: dbConn.Type(),
	}
}

func (m *migratorImpl) getDatabaseDriver(sqlDB *sql.DB, tableName string) (migratedb.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: tableName})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: tableName})
	case "sqlite":
		return sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: tableName})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *migratorImpl) getMigrateInstance(migrationFS fs.FS, path string, tableName string) (*migrate.Migrate, error) {
	sqlDB, err := m.dbConn.GetSQLDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}
	dbDriver, err := m.getDatabaseDriver(sqlDB, tableName)
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	mInstance.Log = migrateLogger{}
	return mInstance, nil
}

func (m *migratorImpl) runMigration(ctx context.Context, migrationFS fs.FS, path string, command string, tableName string) error {
	logger.Infof("Executing migration '%s' (Path: %s, Table: %s)", command, path, tableName)

	mInstance, err := m.getMigrateInstance(migrationFS, path, tableName)
	if err != nil {
		return fmt.Errorf("failed to get migrate instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := mInstance.Close(); srcErr != nil || dbErr != nil {
			logger.Debugf("Closing migrate instance: source=%v, database=%v", srcErr, dbErr)
		}
	}()

	// A cancelled context stops after the migration in progress.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mInstance.GracefulStop <- true
		case <-done:
		}
	}()

	var migrateErr error
	switch command {
	case "up":
		migrateErr = mInstance.Up()
	case "down":
		migrateErr = mInstance.Down()
	default:
		return fmt.Errorf("unsupported migration command: %s", command)
	}

	if migrateErr != nil && !errors.Is(migrateErr, migrate.ErrNoChange) {
		if version, dirty, versionErr := mInstance.Version(); versionErr == nil {
			logger.Errorf("Migration '%s' failed at version %d (dirty: %t).", command, version, dirty)
		}
		return fmt.Errorf("migration failed for command '%s' (DB: %s, Path: %s): %w", command, m.dbType, path, migrateErr)
	}
	if errors.Is(migrateErr, migrate.ErrNoChange) {
		logger.Infof("Migration '%s': schema already up to date.", command)
		return nil
	}
	logger.Infof("Migration '%s' completed successfully.", command)
	return ctx.Err()
}

func (m *migratorImpl) Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.runMigration(ctx, migrationFS, path, "up", tableName)
}

func (m *migratorImpl) Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.runMigration(ctx, migrationFS, path, "down", tableName)
}

// Version reports migrate.ErrNilVersion as version 0 without error.
func (m *migratorImpl) Version(migrationFS fs.FS, path string, tableName string) (uint, bool, error) {
	mInstance, err := m.getMigrateInstance(migrationFS, path, tableName)
	if err != nil {
		return 0, false, err
	}
	defer mInstance.Close()

	version, dirty, err := mInstance.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// migrateLogger routes golang-migrate output to the batch logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	logger.Debugf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool {
	return false
}
