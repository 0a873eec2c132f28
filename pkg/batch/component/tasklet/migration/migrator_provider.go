package migration

import (
	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
)

type migratorProviderImpl struct{}

// NewMigratorProvider creates a new MigratorProvider.
func NewMigratorProvider() MigratorProvider {
	return &migratorProviderImpl{}
}

func (p *migratorProviderImpl) NewMigrator(dbConn database.DBConnection) Migrator {
	return NewMigrator(dbConn)
}
