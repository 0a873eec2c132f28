package metrics

import (
	"context"
	"time"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

// CompositeMetricRecorder fans every call out to several recorders.
type CompositeMetricRecorder struct {
	recorders []MetricRecorder
}

// NewCompositeMetricRecorder returns a recorder forwarding to recorders. Nil entries are dropped.
func NewCompositeMetricRecorder(recorders ...MetricRecorder) *CompositeMetricRecorder {
	c := &CompositeMetricRecorder{}
	for _, r := range recorders {
		if r != nil {
			c.recorders = append(c.recorders, r)
		}
	}
	return c
}

func (c *CompositeMetricRecorder) RecordJobStart(ctx context.Context, e *model.JobExecution) {
	for _, r := range c.recorders {
		r.RecordJobStart(ctx, e)
	}
}

func (c *CompositeMetricRecorder) RecordJobEnd(ctx context.Context, e *model.JobExecution) {
	for _, r := range c.recorders {
		r.RecordJobEnd(ctx, e)
	}
}

func (c *CompositeMetricRecorder) RecordStepStart(ctx context.Context, e *model.StepExecution) {
	for _, r := range c.recorders {
		r.RecordStepStart(ctx, e)
	}
}

func (c *CompositeMetricRecorder) RecordStepEnd(ctx context.Context, e *model.StepExecution) {
	for _, r := range c.recorders {
		r.RecordStepEnd(ctx, e)
	}
}

func (c *CompositeMetricRecorder) RecordRetry(ctx context.Context, operation, reason string) {
	for _, r := range c.recorders {
		r.RecordRetry(ctx, operation, reason)
	}
}

func (c *CompositeMetricRecorder) RecordEvaluation(ctx context.Context, s EvaluationSample) {
	for _, r := range c.recorders {
		r.RecordEvaluation(ctx, s)
	}
}

func (c *CompositeMetricRecorder) RecordSpanPublished(ctx context.Context, span, train, validation int) {
	for _, r := range c.recorders {
		r.RecordSpanPublished(ctx, span, train, validation)
	}
}

func (c *CompositeMetricRecorder) RecordDuration(ctx context.Context, name string, d time.Duration, tags map[string]string) {
	for _, r := range c.recorders {
		r.RecordDuration(ctx, name, d, tags)
	}
}

var _ MetricRecorder = (*CompositeMetricRecorder)(nil)
