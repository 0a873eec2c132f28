// Package tasklet adapts the retrain stages to the batch engine. Each tasklet resolves the
// configured storage connection, runs one stage and publishes its typed result in the step
// ExecutionContext; the job definition promotes those keys for the steps that follow.
package tasklet

import (
	"context"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

// contextHolder implements the ExecutionContext half of port.Tasklet.
type contextHolder struct {
	ec model.ExecutionContext
}

func newContextHolder() contextHolder {
	return contextHolder{ec: model.NewExecutionContext()}
}

func (h *contextHolder) Close(ctx context.Context) error {
	return nil
}

func (h *contextHolder) SetExecutionContext(ctx context.Context, ec model.ExecutionContext) error {
	h.ec = ec
	return nil
}

func (h *contextHolder) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return h.ec, nil
}

func resolveStorage(ctx context.Context, resolver storage.StorageConnectionResolver, name, taskletName string) (storage.StorageConnection, error) {
	conn, err := resolver.ResolveStorageConnection(ctx, name)
	if err != nil {
		return nil, exception.NewBatchError(taskletName, "failed to resolve storage connection '"+name+"'", err, false)
	}
	return conn, nil
}

// jobContext returns the ExecutionContext of the job owning stepExecution.
func jobContext(stepExecution *model.StepExecution) model.ExecutionContext {
	if stepExecution.JobExecution == nil {
		return model.NewExecutionContext()
	}
	return stepExecution.JobExecution.ExecutionContext
}
