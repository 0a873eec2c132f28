package sql_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/retrainer/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/retrainer/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/retrainer/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/retrainer/pkg/batch/component/tasklet/migration"
	"github.com/tigerroll/retrainer/pkg/batch/component/tasklet/migration/filesystem"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	sqlRepo "github.com/tigerroll/retrainer/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

func openMigratedSQLite(t *testing.T) *sqlRepo.SQLJobRepository {
	t.Helper()
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "ledger.db")}
	open := func() *gormadapter.GormDBAdapter {
		db, err := gormadapter.Open(cfg, "SILENT")
		require.NoError(t, err)
		conn, err := gormadapter.NewGormDBAdapter(db, cfg, "metadata")
		require.NoError(t, err)
		return conn
	}

	require.NoError(t, migration.NewMigrator(open()).Up(context.Background(), filesystem.ProvideMigrationsFS(), "sqlite", migration.MigrationsTable))

	conn := open()
	t.Cleanup(func() { conn.Close() })
	return sqlRepo.NewSQLJobRepository(&singleConnectionResolver{conn: conn}, "metadata")
}

func TestSQLiteExecutionRoundTrip(t *testing.T) {
	repo := openMigratedSQLite(t)
	ctx := context.Background()

	je := model.NewJobExecution("retrainJob", model.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	je.MarkAsStarted()
	require.NoError(t, repo.UpdateJobExecution(ctx, je))

	se := model.NewStepExecution(model.NewID(), je, "performanceEvaluator")
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	se.MarkAsStarted()
	se.ExecutionContext.Put("retrain.decision", "RETRAIN")
	se.MarkAsCompleted()
	require.NoError(t, repo.UpdateStepExecution(ctx, se))

	je.ExecutionContext.Put("retrain.decision", "RETRAIN")
	je.MarkAsCompleted()
	require.NoError(t, repo.UpdateJobExecution(ctx, je))

	loaded, err := repo.FindLatestJobExecution(ctx, "retrainJob")
	require.NoError(t, err)
	assert.Equal(t, je.ID, loaded.ID)
	assert.Equal(t, model.BatchStatusCompleted, loaded.Status)
	assert.Equal(t, 2, loaded.Version)
	decision, ok := loaded.ExecutionContext.GetString("retrain.decision")
	assert.True(t, ok)
	assert.Equal(t, "RETRAIN", decision)
	require.Len(t, loaded.StepExecutions, 1)
	assert.Equal(t, model.ExitStatusCompleted, loaded.StepExecutions[0].ExitStatus)

	foundStep, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, "performanceEvaluator", foundStep.StepName)
}

func TestSQLiteDecisionLedgerIsWriteOnce(t *testing.T) {
	repo := openMigratedSQLite(t)
	ctx := context.Background()

	first := &model.DecisionRecord{JobExecutionID: "je-1", Decision: "RETRAIN", Accuracy: 0.7, Threshold: 0.8, Total: 100, Correct: 70}
	require.NoError(t, repo.RecordDecision(ctx, first))

	err := repo.RecordDecision(ctx, &model.DecisionRecord{JobExecutionID: "je-1", Decision: "KEEP", Accuracy: 0.9, Threshold: 0.8, Total: 10, Correct: 9})
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrDecisionAlreadyRecorded)

	stored, err := repo.FindDecision(ctx, "je-1")
	require.NoError(t, err)
	assert.Equal(t, "RETRAIN", stored.Decision)
	assert.Equal(t, 70, stored.Correct)
}

func TestSQLiteSpanLedger(t *testing.T) {
	repo := openMigratedSQLite(t)
	ctx := context.Background()

	_, err := repo.FindLatestSpan(ctx, "gs://data/spans")
	assert.ErrorIs(t, err, repository.ErrSpanNotFound)

	for _, span := range []int{0, 2, 1} {
		require.NoError(t, repo.RecordSpan(ctx, &model.SpanRecord{Span: span, DestinationURI: "gs://data/spans", JobExecutionID: "je", TrainCount: 8, ValidationCount: 2}))
	}
	require.NoError(t, repo.RecordSpan(ctx, &model.SpanRecord{Span: 9, DestinationURI: "gs://other/spans", JobExecutionID: "je"}))

	latest, err := repo.FindLatestSpan(ctx, "gs://data/spans")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Span)
}
