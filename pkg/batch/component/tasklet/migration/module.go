// Package migration applies the job repository schema with golang-migrate.
package migration

import (
	"io/fs"

	"go.uber.org/fx"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
	"github.com/tigerroll/retrainer/pkg/batch/component/tasklet/migration/filesystem"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
)

// TaskletFactory builds a MigrationTasklet for a command.
type TaskletFactory func(command string) (*MigrationTasklet, error)

// TaskletFactoryParams defines the dependencies for NewTaskletFactory.
type TaskletFactoryParams struct {
	fx.In
	Cfg              *config.Config
	DBResolver       database.DBConnectionResolver
	MigratorProvider MigratorProvider
	MigrationFS      fs.FS `name:"migrationsFS"`
}

// NewTaskletFactory returns a factory bound to infrastructure.job_repository_db_ref.
func NewTaskletFactory(p TaskletFactoryParams) TaskletFactory {
	return func(command string) (*MigrationTasklet, error) {
		return NewMigrationTasklet(p.DBResolver, p.MigratorProvider, p.MigrationFS, p.Cfg.Retrainer.Infrastructure.JobRepositoryDBRef, command)
	}
}

// Module provides the TaskletFactory and the embedded migrations.
var Module = fx.Options(
	fx.Provide(NewMigratorProvider),
	fx.Provide(NewTaskletFactory),
	filesystem.Module,
)
