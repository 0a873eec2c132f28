// Package port defines the interfaces the batch engine is assembled from.
package port

import (
	"context"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
)

// FlowElement is a node of a job flow (a Step or a Decision).
type FlowElement interface {
	ID() string
}

// Job is an executable batch job.
type Job interface {
	// Run executes the flow. It returns the error that made the execution fail, if any;
	// the final state is always recorded on jobExecution.
	Run(ctx context.Context, jobExecution *model.JobExecution, jobParameters model.JobParameters) error
	JobName() string
	ID() string
	GetFlow() *model.FlowDefinition
}

// Step is a unit of work within a job.
type Step interface {
	FlowElement
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
	StepName() string
	SetMetricRecorder(recorder metrics.MetricRecorder)
	SetTracer(tracer metrics.Tracer)
	// GetExecutionContextPromotion returns the keys copied into the job context on success, or nil.
	GetExecutionContextPromotion() *model.ExecutionContextPromotion
}

// Tasklet is the body of a TaskletStep.
type Tasklet interface {
	// Execute runs the task once and returns the exit status used for flow transitions.
	Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error)
	Close(ctx context.Context) error
	SetExecutionContext(ctx context.Context, ec model.ExecutionContext) error
	GetExecutionContext(ctx context.Context) (model.ExecutionContext, error)
}

// Decision is a branching point of the flow. The returned exit status selects the transition.
type Decision interface {
	FlowElement
	Decide(ctx context.Context, jobExecution *model.JobExecution, jobParameters model.JobParameters) (model.ExitStatus, error)
	DecisionName() string
}

// JobExecutionListener observes job boundaries.
type JobExecutionListener interface {
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}

// StepExecutionListener observes step boundaries.
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

type contextKey string

const stepExecutionKey contextKey = "stepExecution"

// GetContextWithStepExecution returns a context carrying se.
func GetContextWithStepExecution(ctx context.Context, se *model.StepExecution) context.Context {
	return context.WithValue(ctx, stepExecutionKey, se)
}

// GetStepExecutionFromContext returns the StepExecution stored in ctx, or nil.
func GetStepExecutionFromContext(ctx context.Context) *model.StepExecution {
	se, _ := ctx.Value(stepExecutionKey).(*model.StepExecution)
	return se
}

// Value group names under which listeners are contributed to the fx graph.
const (
	JobListenerGroup  = "job_listeners"
	StepListenerGroup = "step_listeners"
)
