package repository

import (
	"context"
	"errors"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

// ErrJobExecutionNotFound is returned when a JobExecution does not exist.
var ErrJobExecutionNotFound = errors.New("job execution not found")

func init() {
	exception.RegisterErrorType("JobExecutionNotFound", ErrJobExecutionNotFound)
}

// JobExecution persists job executions.
type JobExecution interface {
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
	// FindJobExecutionByID loads the execution together with its step executions.
	FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error)
	// FindLatestJobExecution returns the most recently created execution of jobName.
	FindLatestJobExecution(ctx context.Context, jobName string) (*model.JobExecution, error)
}
