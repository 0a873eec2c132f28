package migration

import (
	"context"
	"io/fs"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
	port "github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const taskletName = "migration_tasklet"

// VersionKey holds the schema version after the migration ran.
var VersionKey = model.NewKey[int]("migration.version")

// MigrationTasklet applies the embedded schema migrations to a named database connection.
// The directory inside the migrations filesystem is the connection's database type.
type MigrationTasklet struct {
	dbResolver       database.DBConnectionResolver
	migratorProvider MigratorProvider
	migrationFS      fs.FS
	dbConnectionName string
	command          string
	ec               model.ExecutionContext
}

var _ port.Tasklet = (*MigrationTasklet)(nil)

// NewMigrationTasklet creates a MigrationTasklet. command is "up" or "down"; empty means "up".
func NewMigrationTasklet(
	dbResolver database.DBConnectionResolver,
	migratorProvider MigratorProvider,
	migrationFS fs.FS,
	dbConnectionName string,
	command string,
) (*MigrationTasklet, error) {
	if dbConnectionName == "" {
		return nil, exception.NewBatchErrorf(taskletName, "database connection name is required for MigrationTasklet")
	}
	if command == "" {
		command = "up"
	}
	if command != "up" && command != "down" {
		return nil, exception.NewBatchErrorf(taskletName, "unknown migration command: %s", command)
	}
	return &MigrationTasklet{
		dbResolver:       dbResolver,
		migratorProvider: migratorProvider,
		migrationFS:      migrationFS,
		dbConnectionName: dbConnectionName,
		command:          command,
		ec:               model.NewExecutionContext(),
	}, nil
}

// Execute runs the migration and resolves the connection again afterwards, because
// closing the migrate instance closes the connection it used.
func (t *MigrationTasklet) Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	dbConn, err := t.dbResolver.ResolveDBConnection(ctx, t.dbConnectionName)
	if err != nil {
		return model.ExitStatusFailed, exception.NewBatchError(taskletName, "failed to resolve DB connection", err, false)
	}
	migrationDir := dbConn.Type()
	logger.Infof("Starting database migration '%s' for DB connection '%s' (dir: %s).", t.command, t.dbConnectionName, migrationDir)

	migrator := t.migratorProvider.NewMigrator(dbConn)
	switch t.command {
	case "up":
		err = migrator.Up(ctx, t.migrationFS, migrationDir, MigrationsTable)
	case "down":
		err = migrator.Down(ctx, t.migrationFS, migrationDir, MigrationsTable)
	}
	if err != nil {
		return model.ExitStatusFailed, exception.NewBatchError(taskletName, "Migration '"+t.command+"' failed", err, false)
	}

	fresh, err := t.dbResolver.ResolveDBConnection(ctx, t.dbConnectionName)
	if err != nil {
		return model.ExitStatusFailed, exception.NewBatchError(taskletName, "failed to reconnect DB connection after migration", err, false)
	}
	version, dirty, err := t.migratorProvider.NewMigrator(fresh).Version(t.migrationFS, migrationDir, MigrationsTable)
	if err != nil {
		logger.Warnf("MigrationTasklet: could not read schema version: %v", err)
	} else {
		logger.Infof("Database '%s' is at schema version %d (dirty: %t).", t.dbConnectionName, version, dirty)
		VersionKey.Put(stepExecution.ExecutionContext, int(version))
	}
	// Reading the version closed the connection as well.
	if _, err := t.dbResolver.ResolveDBConnection(ctx, t.dbConnectionName); err != nil {
		return model.ExitStatusFailed, exception.NewBatchError(taskletName, "failed to reconnect DB connection after migration", err, false)
	}
	return model.ExitStatusCompleted, nil
}

func (t *MigrationTasklet) Close(ctx context.Context) error {
	return nil
}

func (t *MigrationTasklet) SetExecutionContext(ctx context.Context, ec model.ExecutionContext) error {
	t.ec = ec
	return nil
}

func (t *MigrationTasklet) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return t.ec, nil
}
