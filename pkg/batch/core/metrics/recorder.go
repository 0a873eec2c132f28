// Package metrics declares the observability ports of the batch engine.
package metrics

import (
	"context"
	"time"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

// EvaluationSample is what the evaluator reports about one prediction run.
type EvaluationSample struct {
	Total     int
	Correct   int
	Accuracy  float64
	Threshold float64
	Decision  string
}

// MetricRecorder records metrics of batch execution. Implementations exist for Prometheus and
// OpenTelemetry; NoOpMetricRecorder is used when metrics are disabled.
type MetricRecorder interface {
	RecordJobStart(ctx context.Context, execution *model.JobExecution)
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)
	RecordStepStart(ctx context.Context, execution *model.StepExecution)
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordRetry counts one retried attempt of operation. reason is a short error kind.
	RecordRetry(ctx context.Context, operation string, reason string)
	// RecordEvaluation publishes the outcome of a performance evaluation.
	RecordEvaluation(ctx context.Context, sample EvaluationSample)
	// RecordSpanPublished publishes the number of the span just created and its partition sizes.
	RecordSpanPublished(ctx context.Context, span int, trainCount, validationCount int)
	// RecordDuration records how long a named operation took.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
