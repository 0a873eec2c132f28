package metrics

import (
	"context"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

// Tracer creates spans around job and step executions.
type Tracer interface {
	// StartJobSpan returns a context holding the job span and a function ending it.
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())
	// StartStepSpan returns a context holding the step span and a function ending it.
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())
	// RecordError marks the current span as failed.
	RecordError(ctx context.Context, module string, err error)
	// RecordEvent adds an event with attributes to the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
