package sql_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/retrainer/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/retrainer/pkg/batch/adapter/database/gorm"
	coreAdapter "github.com/tigerroll/retrainer/pkg/batch/core/adapter"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	sqlRepo "github.com/tigerroll/retrainer/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

// singleConnectionResolver always returns the same connection.
type singleConnectionResolver struct {
	conn database.DBConnection
}

func (r *singleConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	return r.conn, nil
}

func (r *singleConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.conn, nil
}

func setupRepository(t *testing.T) (sqlmock.Sqlmock, *sqlRepo.SQLJobRepository) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	conn, err := gormadapter.NewGormDBAdapter(gormDB, dbconfig.DatabaseConfig{Type: "mysql"}, "metadata")
	require.NoError(t, err)
	return mock, sqlRepo.NewSQLJobRepository(&singleConnectionResolver{conn: conn}, "metadata")
}

func TestSaveAndUpdateJobExecution(t *testing.T) {
	mock, repo := setupRepository(t)
	ctx := context.Background()
	je := model.NewJobExecution("retrainJob", model.NewJobParameters())

	mock.ExpectExec("INSERT INTO `batch_job_execution`").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveJobExecution(ctx, je))

	mock.ExpectExec("UPDATE `batch_job_execution` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	je.MarkAsStarted()
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.Equal(t, 1, je.Version)

	mock.ExpectExec("UPDATE `batch_job_execution` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateJobExecution(ctx, je)
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrOptimisticLockingFailure)
	assert.Equal(t, 1, je.Version, "version is rolled back on a lost update")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveJobExecutionToleratesMissingTable(t *testing.T) {
	mock, repo := setupRepository(t)
	mock.ExpectExec("INSERT INTO `batch_job_execution`").
		WillReturnError(errors.New("Error 1146 (42S02): Table 'retrainer.batch_job_execution' doesn't exist"))

	assert.NoError(t, repo.SaveJobExecution(context.Background(), model.NewJobExecution("retrainJob", model.NewJobParameters())))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindLatestJobExecutionLoadsSteps(t *testing.T) {
	mock, repo := setupRepository(t)
	now := time.Now()

	mock.ExpectQuery("SELECT \\* FROM `batch_job_execution` WHERE .*ORDER BY create_time desc").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_name", "parameters", "start_time", "end_time", "status", "exit_status",
			"failures", "version", "create_time", "last_updated", "execution_context", "current_step_name",
		}).AddRow(
			"je-1", "retrainJob", `{}`, now, nil, "COMPLETED", "COMPLETED",
			`[]`, 3, now, now, `{"retrain.decision":"KEEP"}`, "performanceEvaluator",
		))
	mock.ExpectQuery("SELECT \\* FROM `batch_step_execution` WHERE .*ORDER BY start_time asc").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "step_name", "job_execution_id", "start_time", "end_time", "status", "exit_status",
			"failures", "execution_context", "last_updated", "version",
		}).AddRow(
			"se-1", "performanceEvaluator", "je-1", now, now, "COMPLETED", "COMPLETED",
			`[]`, `{}`, now, 2,
		))

	je, err := repo.FindLatestJobExecution(context.Background(), "retrainJob")
	require.NoError(t, err)
	assert.Equal(t, "je-1", je.ID)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	decision, ok := je.ExecutionContext.GetString("retrain.decision")
	assert.True(t, ok)
	assert.Equal(t, "KEEP", decision)
	require.Len(t, je.StepExecutions, 1)
	assert.Same(t, je, je.StepExecutions[0].JobExecution)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindJobExecutionNotFound(t *testing.T) {
	mock, repo := setupRepository(t)
	mock.ExpectQuery("SELECT \\* FROM `batch_job_execution`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindJobExecutionByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestRecordDecisionOnce(t *testing.T) {
	mock, repo := setupRepository(t)
	ctx := context.Background()
	record := &model.DecisionRecord{JobExecutionID: "je-1", Decision: "RETRAIN", Accuracy: 0.7, Threshold: 0.8, Total: 100, Correct: 70}

	mock.ExpectExec("INSERT INTO `retrain_decisions`").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.RecordDecision(ctx, record))
	assert.False(t, record.RecordedAt.IsZero())

	mock.ExpectExec("INSERT INTO `retrain_decisions`").
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry 'je-1' for key 'PRIMARY'"))
	err := repo.RecordDecision(ctx, &model.DecisionRecord{JobExecutionID: "je-1", Decision: "KEEP"})
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrDecisionAlreadyRecorded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDecision(t *testing.T) {
	mock, repo := setupRepository(t)
	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM `retrain_decisions` WHERE").
		WillReturnRows(sqlmock.NewRows([]string{
			"job_execution_id", "decision", "accuracy", "threshold", "total", "correct", "results_uri", "recorded_at",
		}).AddRow("je-1", "KEEP", 0.82, 0.8, 100, 82, "gs://results/run-1", now))

	d, err := repo.FindDecision(context.Background(), "je-1")
	require.NoError(t, err)
	assert.Equal(t, "KEEP", d.Decision)
	assert.Equal(t, 82, d.Correct)

	mock.ExpectQuery("SELECT \\* FROM `retrain_decisions` WHERE").
		WillReturnRows(sqlmock.NewRows([]string{"job_execution_id"}))
	_, err = repo.FindDecision(context.Background(), "je-2")
	assert.ErrorIs(t, err, repository.ErrDecisionNotFound)
}

func TestSpanLedger(t *testing.T) {
	mock, repo := setupRepository(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO `retrain_spans`").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.RecordSpan(ctx, &model.SpanRecord{Span: 2, DestinationURI: "gs://data/spans", JobExecutionID: "je-1", TrainCount: 8, ValidationCount: 2}))

	mock.ExpectQuery("SELECT \\* FROM `retrain_spans` WHERE .*ORDER BY span desc").
		WillReturnRows(sqlmock.NewRows([]string{
			"span", "destination_uri", "job_execution_id", "train_count", "validation_count", "published_at",
		}).AddRow(2, "gs://data/spans", "je-1", 8, 2, time.Now()))
	latest, err := repo.FindLatestSpan(ctx, "gs://data/spans")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Span)
	assert.Equal(t, 8, latest.TrainCount)

	mock.ExpectQuery("SELECT \\* FROM `retrain_spans`").
		WillReturnError(errors.New("Error 1146 (42S02): Table 'retrainer.retrain_spans' doesn't exist"))
	_, err = repo.FindLatestSpan(ctx, "gs://data/spans")
	assert.ErrorIs(t, err, repository.ErrSpanNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
