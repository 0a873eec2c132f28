// Package gorm implements the database adapter interfaces on GORM. Dialects register
// themselves from the sqlite, mysql and postgres subpackages.
package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/retrainer/pkg/batch/adapter/database/config"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// TableNamer represents a struct that has a TableName() string method.
type TableNamer interface {
	TableName() string
}

// applyTableName scopes db to the model's table, looking through pointers and slices.
func applyTableName(db *gorm.DB, model interface{}) *gorm.DB {
	if namer, ok := model.(TableNamer); ok {
		return db.Table(namer.TableName())
	}

	t := reflect.TypeOf(model)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
	}
	if namer, ok := reflect.New(t).Interface().(TableNamer); ok {
		return db.Table(namer.TableName())
	}
	return db.Model(model)
}

// NewGormLogger creates a gorm logger writing through the batch logger at the given level.
func NewGormLogger(level string) gormLogger.Interface {
	var gormLevel gormLogger.LogLevel
	switch config.LogLevel(strings.ToUpper(level)) {
	case config.LogLevelError:
		gormLevel = gormLogger.Error
	case config.LogLevelWarn:
		gormLevel = gormLogger.Warn
	case config.LogLevelInfo, config.LogLevelDebug:
		gormLevel = gormLogger.Info
	default:
		gormLevel = gormLogger.Silent
	}

	return gormLogger.New(
		&GormWriter{},
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter redirects GORM log output to the batch logger. SQL traces go to DEBUG.
type GormWriter struct{}

// Printf implements gormLogger.Writer.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	upper := strings.ToUpper(msg)
	if strings.Contains(upper, "SELECT") || strings.Contains(upper, "INSERT") || strings.Contains(upper, "UPDATE") || strings.Contains(upper, "DELETE") {
		logger.Debugf("[GORM] %s", msg)
		return
	}
	logger.Infof("[GORM] %s", msg)
}

// GormDBAdapter implements database.DBConnection.
type GormDBAdapter struct {
	db    *gorm.DB
	sqlDB *sql.DB
	cfg   dbconfig.DatabaseConfig
	name  string
}

var _ database.DBConnection = (*GormDBAdapter)(nil)

// NewGormDBAdapter wraps an open *gorm.DB.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) (*GormDBAdapter, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB for '%s': %w", name, err)
	}
	return &GormDBAdapter{
		db:    db,
		sqlDB: sqlDB,
		cfg:   cfg,
		name:  name,
	}, nil
}

func (a *GormDBAdapter) Close() error {
	logger.Infof("Closing database connection '%s'...", a.name)
	return a.sqlDB.Close()
}

func (a *GormDBAdapter) Type() string {
	return a.cfg.Type
}

func (a *GormDBAdapter) Name() string {
	return a.name
}

func (a *GormDBAdapter) RefreshConnection(ctx context.Context) error {
	return a.sqlDB.PingContext(ctx)
}

func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig {
	return a.cfg
}

func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	if a.sqlDB == nil {
		return nil, fmt.Errorf("underlying sql.DB is nil")
	}
	return a.sqlDB, nil
}

// IsTableNotExistError matches the messages of the supported dialects.
func (a *GormDBAdapter) IsTableNotExistError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table") || // sqlite
		(strings.Contains(msg, "table") && strings.Contains(msg, "doesn't exist")) || // mysql
		(strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")) // postgres
}

// IsDuplicateKeyError matches gorm's translated error and the raw dialect messages.
func (a *GormDBAdapter) IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqlDriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || // sqlite
		strings.Contains(msg, "duplicate entry") || // mysql
		strings.Contains(msg, "duplicate key value") // postgres
}

func (a *GormDBAdapter) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	db := applyTableName(a.db.WithContext(ctx), target)
	if len(query) > 0 {
		db = db.Where(query)
	}
	if orderBy != "" {
		db = db.Order(orderBy)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	return db.Find(target).Error
}

func (a *GormDBAdapter) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	db := applyTableName(a.db.WithContext(ctx), model)
	if len(query) > 0 {
		db = db.Where(query)
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ExecuteUpdate runs outside GORM's implicit transaction; each call is a single statement.
func (a *GormDBAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	db := a.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
	if tableName != "" {
		db = db.Table(tableName)
	}

	var result *gorm.DB
	switch operation {
	case "CREATE":
		result = db.Create(model)
	case "UPDATE":
		result = db.Model(model).Where(query).Updates(model)
	case "DELETE":
		if len(query) > 0 {
			db = db.Where(query)
		}
		result = db.Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
