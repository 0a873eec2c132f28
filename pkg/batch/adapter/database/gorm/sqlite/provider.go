// Package sqlite provides a GORM DBProvider implementation for SQLite databases.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/retrainer/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/retrainer/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/retrainer/pkg/batch/core/config"
)

// DBType is the configuration type handled by this package.
const DBType = "sqlite"

func init() {
	gormadapter.RegisterDialector(DBType, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		dsn, err := ConnectionString(cfg)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	})
}

// ConnectionString returns the DSN for SQLite, which is the database file path.
func ConnectionString(c dbconfig.DatabaseConfig) (string, error) {
	if c.Database == "" {
		return "", errors.New("SQLite database path cannot be empty")
	}
	return c.Database, nil
}

// SQLiteDBProvider implements database.DBProvider for SQLite connections.
type SQLiteDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates a new DBProvider for SQLite.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &SQLiteDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, DBType)}
}
