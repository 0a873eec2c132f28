// Package mysql provides a GORM DBProvider implementation for MySQL databases.
package mysql

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/retrainer/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/retrainer/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/retrainer/pkg/batch/core/config"
)

// DBType is the configuration type handled by this package.
const DBType = "mysql"

func init() {
	gormadapter.RegisterDialector(DBType, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString generates the DSN for MySQL connections. Schema migrations need multiStatements.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	userPass := ""
	if c.User != "" {
		userPass = c.User
		if c.Password != "" {
			userPass += ":" + c.Password
		}
		userPass += "@"
	}
	return fmt.Sprintf("%stcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&multiStatements=true",
		userPass, c.Host, c.Port, c.Database)
}

// MySQLDBProvider implements database.DBProvider for MySQL connections.
type MySQLDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates a new DBProvider for MySQL.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &MySQLDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, DBType)}
}
