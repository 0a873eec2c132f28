package repository

import (
	"context"
	"errors"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

// ErrStepExecutionNotFound is returned when a StepExecution does not exist.
var ErrStepExecutionNotFound = errors.New("step execution not found")

func init() {
	exception.RegisterErrorType("StepExecutionNotFound", ErrStepExecutionNotFound)
}

// StepExecution persists step executions.
type StepExecution interface {
	SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error
	UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error
	FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error)
}
