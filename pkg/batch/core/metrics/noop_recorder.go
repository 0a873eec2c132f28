package metrics

import (
	"context"
	"time"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder discards everything.
type NoOpMetricRecorder struct{}

func NewNoOpMetricRecorder() *NoOpMetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordJobStart(context.Context, *model.JobExecution)   {}
func (r *NoOpMetricRecorder) RecordJobEnd(context.Context, *model.JobExecution)     {}
func (r *NoOpMetricRecorder) RecordStepStart(context.Context, *model.StepExecution) {}
func (r *NoOpMetricRecorder) RecordStepEnd(context.Context, *model.StepExecution)   {}
func (r *NoOpMetricRecorder) RecordRetry(context.Context, string, string)           {}
func (r *NoOpMetricRecorder) RecordEvaluation(context.Context, EvaluationSample)    {}
func (r *NoOpMetricRecorder) RecordSpanPublished(context.Context, int, int, int)    {}
func (r *NoOpMetricRecorder) RecordDuration(context.Context, string, time.Duration, map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer creates no spans.
type NoOpTracer struct{}

func NewNoOpTracer() *NoOpTracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartJobSpan(ctx context.Context, _ *model.JobExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartStepSpan(ctx context.Context, _ *model.StepExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(context.Context, string, error) {}

func (t *NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)
