package migration

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/retrainer/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/retrainer/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/retrainer/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/retrainer/pkg/batch/component/tasklet/migration/filesystem"
	coreAdapter "github.com/tigerroll/retrainer/pkg/batch/core/adapter"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

func openSQLite(t *testing.T, path string) *gormadapter.GormDBAdapter {
	t.Helper()
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: path}
	db, err := gormadapter.Open(cfg, "SILENT")
	require.NoError(t, err)
	conn, err := gormadapter.NewGormDBAdapter(db, cfg, "metadata")
	require.NoError(t, err)
	return conn
}

func tableExists(t *testing.T, conn database.DBConnection, name string) bool {
	t.Helper()
	sqlDB, err := conn.GetSQLDB()
	require.NoError(t, err)
	var n int
	require.NoError(t, sqlDB.QueryRow("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n))
	return n == 1
}

func TestMigratorUpAndDownOnSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	migrations := filesystem.ProvideMigrationsFS()
	ctx := context.Background()

	require.NoError(t, NewMigrator(openSQLite(t, path)).Up(ctx, migrations, "sqlite", MigrationsTable))

	conn := openSQLite(t, path)
	for _, table := range []string{"batch_job_execution", "batch_step_execution", "retrain_decisions", "retrain_spans", MigrationsTable} {
		assert.True(t, tableExists(t, conn, table), table)
	}
	conn.Close()

	// A second run has nothing to apply.
	require.NoError(t, NewMigrator(openSQLite(t, path)).Up(ctx, migrations, "sqlite", MigrationsTable))

	version, dirty, err := NewMigrator(openSQLite(t, path)).Version(migrations, "sqlite", MigrationsTable)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, NewMigrator(openSQLite(t, path)).Down(ctx, migrations, "sqlite", MigrationsTable))
	conn = openSQLite(t, path)
	defer conn.Close()
	assert.False(t, tableExists(t, conn, "retrain_decisions"))
}

func TestMigratorRejectsUnknownDialect(t *testing.T) {
	conn := openSQLite(t, filepath.Join(t.TempDir(), "x.db"))
	defer conn.Close()
	m := &migratorImpl{dbConn: conn, dbType: "oracle"}
	err := m.Up(context.Background(), filesystem.ProvideMigrationsFS(), "sqlite", MigrationsTable)
	assert.Error(t, err)
}

type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.Called(path, tableName).Error(0)
}

func (m *mockMigrator) Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.Called(path, tableName).Error(0)
}

func (m *mockMigrator) Version(migrationFS fs.FS, path string, tableName string) (uint, bool, error) {
	args := m.Called(path, tableName)
	return args.Get(0).(uint), args.Bool(1), args.Error(2)
}

type fixedMigratorProvider struct {
	migrator Migrator
}

func (p fixedMigratorProvider) NewMigrator(database.DBConnection) Migrator {
	return p.migrator
}

type fixedResolver struct {
	conn database.DBConnection
	err  error
}

func (r fixedResolver) ResolveDBConnection(context.Context, string) (database.DBConnection, error) {
	return r.conn, r.err
}

func (r fixedResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveDBConnection(ctx, name)
}

func TestMigrationTaskletUp(t *testing.T) {
	conn := openSQLite(t, filepath.Join(t.TempDir(), "t.db"))
	defer conn.Close()

	m := &mockMigrator{}
	m.On("Up", "sqlite", MigrationsTable).Return(nil).Once()
	m.On("Version", "sqlite", MigrationsTable).Return(uint(1), false, nil).Once()

	tasklet, err := NewMigrationTasklet(fixedResolver{conn: conn}, fixedMigratorProvider{m}, filesystem.ProvideMigrationsFS(), "metadata", "")
	require.NoError(t, err)

	se := model.NewStepExecution(model.NewID(), model.NewJobExecution("migrateJob", model.NewJobParameters()), "migrate")
	status, err := tasklet.Execute(context.Background(), se)
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatusCompleted, status)
	v, ok := VersionKey.Get(se.ExecutionContext)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	m.AssertExpectations(t)
}

func TestMigrationTaskletFailures(t *testing.T) {
	_, err := NewMigrationTasklet(fixedResolver{}, NewMigratorProvider(), nil, "", "up")
	assert.Error(t, err)
	_, err = NewMigrationTasklet(fixedResolver{}, NewMigratorProvider(), nil, "metadata", "sideways")
	assert.Error(t, err)

	tasklet, err := NewMigrationTasklet(fixedResolver{err: errors.New("unreachable")}, NewMigratorProvider(), nil, "metadata", "up")
	require.NoError(t, err)
	se := model.NewStepExecution(model.NewID(), model.NewJobExecution("migrateJob", model.NewJobParameters()), "migrate")
	status, err := tasklet.Execute(context.Background(), se)
	assert.Error(t, err)
	assert.Equal(t, model.ExitStatusFailed, status)
}
