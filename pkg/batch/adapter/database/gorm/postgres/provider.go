// Package postgres provides a GORM DBProvider implementation for PostgreSQL databases.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/retrainer/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/retrainer/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/retrainer/pkg/batch/core/config"
)

// DBType is the configuration type handled by this package.
const DBType = "postgres"

func init() {
	gormadapter.RegisterDialector(DBType, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString generates the DSN for PostgreSQL connections. An empty sslmode means "disable".
func ConnectionString(c dbconfig.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
}

// PostgresDBProvider implements database.DBProvider for PostgreSQL connections.
type PostgresDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates a new DBProvider for PostgreSQL.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &PostgresDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, DBType)}
}
