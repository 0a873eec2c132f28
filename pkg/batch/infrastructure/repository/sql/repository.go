// Package sql implements repository.JobRepository on a GORM database connection.
package sql

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// SQLJobRepository implements the repository.JobRepository interface.
type SQLJobRepository struct {
	dbResolver database.DBConnectionResolver
	// dbName is the name of the database connection used by this JobRepository (e.g., "metadata").
	dbName string
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)

// NewSQLJobRepository creates a new instance of SQLJobRepository.
func NewSQLJobRepository(dbResolver database.DBConnectionResolver, dbName string) *SQLJobRepository {
	return &SQLJobRepository{
		dbResolver: dbResolver,
		dbName:     dbName,
	}
}

// getDBConnection resolves the connection on every call so a reconnect is picked up.
func (r *SQLJobRepository) getDBConnection(ctx context.Context) (database.DBConnection, error) {
	conn, err := r.dbResolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewBatchError("SQLJobRepository", fmt.Sprintf("Failed to resolve DB connection '%s'", r.dbName), err, false)
	}
	return conn, nil
}

// --- JobExecution implementation ---

// SaveJobExecution inserts the execution. A missing table is tolerated so that a job can
// run before the migrations are applied.
func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "SQLJobRepository.SaveJobExecution"
	entity := fromDomainJobExecution(jobExecution)

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		if conn.IsTableNotExistError(err) {
			logger.Warnf("%s: table %s does not exist, execution %s is not persisted.", op, entity.TableName(), jobExecution.ID)
			return nil
		}
		return exception.NewBatchError(op, fmt.Sprintf("failed to save JobExecution (ID: %s)", jobExecution.ID), err, false)
	}
	return nil
}

// UpdateJobExecution writes the execution guarded by its version.
func (r *SQLJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "SQLJobRepository.UpdateJobExecution"

	originalVersion := jobExecution.Version
	jobExecution.Version++
	jobExecution.LastUpdated = time.Now()
	entity := fromDomainJobExecution(jobExecution)

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		jobExecution.Version = originalVersion
		return err
	}

	rowsAffected, err := conn.ExecuteUpdate(ctx, entity, "UPDATE", entity.TableName(), map[string]interface{}{"version": originalVersion})
	if err != nil {
		jobExecution.Version = originalVersion
		if conn.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewBatchError(op, fmt.Sprintf("failed to update JobExecution (ID: %s)", jobExecution.ID), err, false)
	}
	if rowsAffected == 0 {
		jobExecution.Version = originalVersion
		return exception.NewBatchErrorf(op, "JobExecution (ID: %s) with version %d not found for update", jobExecution.ID, originalVersion, repository.ErrOptimisticLockingFailure)
	}
	return nil
}

func (r *SQLJobRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error) {
	return r.findJobExecution(ctx, "SQLJobRepository.FindJobExecutionByID", map[string]interface{}{"id": executionID})
}

// FindLatestJobExecution returns the most recently created execution of jobName.
func (r *SQLJobRepository) FindLatestJobExecution(ctx context.Context, jobName string) (*model.JobExecution, error) {
	return r.findJobExecution(ctx, "SQLJobRepository.FindLatestJobExecution", map[string]interface{}{"job_name": jobName})
}

func (r *SQLJobRepository) findJobExecution(ctx context.Context, op string, query map[string]interface{}) (*model.JobExecution, error) {
	var entity JobExecutionEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.ExecuteQueryAdvanced(ctx, &entity, query, "create_time desc", 1); err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrJobExecutionNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find JobExecution by %v", query), err, false)
	}
	if entity.ID == "" {
		return nil, repository.ErrJobExecutionNotFound
	}

	domainExecution := toDomainJobExecution(&entity)
	stepExecutions, err := r.FindStepExecutionsByJobExecutionID(ctx, domainExecution.ID)
	if err != nil {
		logger.Errorf("%s: Failed to load StepExecutions for JobExecution (ID: %s): %v", op, domainExecution.ID, err)
		return domainExecution, nil
	}
	for _, se := range stepExecutions {
		se.JobExecution = domainExecution
	}
	domainExecution.StepExecutions = stepExecutions
	return domainExecution, nil
}

// --- StepExecution implementation ---

func (r *SQLJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "SQLJobRepository.SaveStepExecution"
	entity := fromDomainStepExecution(stepExecution)

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		if conn.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewBatchError(op, fmt.Sprintf("failed to save StepExecution (ID: %s)", stepExecution.ID), err, false)
	}
	return nil
}

func (r *SQLJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "SQLJobRepository.UpdateStepExecution"

	originalVersion := stepExecution.Version
	stepExecution.Version++
	stepExecution.LastUpdated = time.Now()
	entity := fromDomainStepExecution(stepExecution)

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		stepExecution.Version = originalVersion
		return err
	}

	rowsAffected, err := conn.ExecuteUpdate(ctx, entity, "UPDATE", entity.TableName(), map[string]interface{}{"version": originalVersion})
	if err != nil {
		stepExecution.Version = originalVersion
		if conn.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewBatchError(op, fmt.Sprintf("failed to update StepExecution (ID: %s)", stepExecution.ID), err, false)
	}
	if rowsAffected == 0 {
		stepExecution.Version = originalVersion
		return exception.NewBatchErrorf(op, "StepExecution (ID: %s) with version %d not found for update", stepExecution.ID, originalVersion, repository.ErrOptimisticLockingFailure)
	}
	return nil
}

func (r *SQLJobRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error) {
	const op = "SQLJobRepository.FindStepExecutionByID"
	var entity StepExecutionEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"id": executionID}, "", 1); err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrStepExecutionNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find StepExecution by ID: %s", executionID), err, false)
	}
	if entity.ID == "" {
		return nil, repository.ErrStepExecutionNotFound
	}
	return toDomainStepExecution(&entity), nil
}

// FindStepExecutionsByJobExecutionID retrieves all StepExecutions of a JobExecution ordered by start time.
func (r *SQLJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	const op = "SQLJobRepository.FindStepExecutionsByJobExecutionID"
	var entities []StepExecutionEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{"job_execution_id": jobExecutionID}, "start_time asc", 0); err != nil {
		if conn.IsTableNotExistError(err) {
			return []*model.StepExecution{}, nil
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find StepExecutions by JobExecution ID: %s", jobExecutionID), err, false)
	}

	domainExecutions := make([]*model.StepExecution, len(entities))
	for i := range entities {
		domainExecutions[i] = toDomainStepExecution(&entities[i])
	}
	return domainExecutions, nil
}

// Close implements repository.JobRepository. Connections belong to their DBProvider.
func (r *SQLJobRepository) Close() error {
	return nil
}

// JobRepositoryParams defines the dependencies required to create a NewJobRepository.
type JobRepositoryParams struct {
	fx.In
	DBResolver database.DBConnectionResolver
	Cfg        *config.Config
}

// NewJobRepository creates the repository on the connection named by
// infrastructure.job_repository_db_ref ("metadata" by default).
func NewJobRepository(p JobRepositoryParams) *SQLJobRepository {
	dbName := p.Cfg.Retrainer.Infrastructure.JobRepositoryDBRef
	if dbName == "" {
		dbName = "metadata"
	}
	return NewSQLJobRepository(p.DBResolver, dbName)
}

// Module provides the SQL repository as repository.JobRepository.
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewJobRepository, fx.As(new(repository.JobRepository)))),
)
