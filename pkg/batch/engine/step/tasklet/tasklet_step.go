// Package tasklet provides the Step implementation that runs a single Tasklet.
package tasklet

import (
	"context"
	"errors"

	"github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// TaskletStep is an implementation of port.Step for Tasklet-oriented processing.
type TaskletStep struct {
	id                     string
	tasklet                port.Tasklet
	jobRepository          repository.JobRepository
	stepExecutionListeners []port.StepExecutionListener
	promotion              *model.ExecutionContextPromotion

	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

// Verify that TaskletStep implements the port.Step interface.
var _ port.Step = (*TaskletStep)(nil)

// NewTaskletStep creates a new TaskletStep instance.
// Nil recorder or tracer fall back to no-op implementations.
func NewTaskletStep(
	id string,
	tasklet port.Tasklet,
	jobRepository repository.JobRepository,
	stepExecutionListeners []port.StepExecutionListener,
	promotion *model.ExecutionContextPromotion,
	metricRecorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *TaskletStep {
	if metricRecorder == nil {
		metricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &TaskletStep{
		id:                     id,
		tasklet:                tasklet,
		jobRepository:          jobRepository,
		stepExecutionListeners: stepExecutionListeners,
		promotion:              promotion,
		metricRecorder:         metricRecorder,
		tracer:                 tracer,
	}
}

// SetMetricRecorder implements port.Step.
func (s *TaskletStep) SetMetricRecorder(recorder metrics.MetricRecorder) {
	s.metricRecorder = recorder
}

// SetTracer implements port.Step.
func (s *TaskletStep) SetTracer(tracer metrics.Tracer) {
	s.tracer = tracer
}

// ID returns the step ID.
func (s *TaskletStep) ID() string {
	return s.id
}

// StepName returns the step name.
func (s *TaskletStep) StepName() string {
	return s.id
}

// GetExecutionContextPromotion implements port.Step.
func (s *TaskletStep) GetExecutionContextPromotion() *model.ExecutionContextPromotion {
	return s.promotion
}

func (s *TaskletStep) notifyBeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	for _, l := range s.stepExecutionListeners {
		l.BeforeStep(ctx, stepExecution)
	}
}

func (s *TaskletStep) notifyAfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	for _, l := range s.stepExecutionListeners {
		l.AfterStep(ctx, stepExecution)
	}
}

// Execute runs the Tasklet once and persists the resulting StepExecution.
// The tasklet's exit status becomes the step's exit status and drives the flow transition.
func (s *TaskletStep) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) (err error) {
	logger.Infof("TaskletStep '%s' executing.", s.id)

	ctx, finishSpan := s.tracer.StartStepSpan(ctx, stepExecution)
	defer finishSpan()

	// 1. Update StepExecution status to STARTED
	stepExecution.MarkAsStarted()
	if err := s.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
		stepExecution.MarkAsFailed(err)
		return exception.NewBatchError(s.id, "failed to update StepExecution status to STARTED", err, false)
	}
	s.metricRecorder.RecordStepStart(ctx, stepExecution)
	defer s.metricRecorder.RecordStepEnd(ctx, stepExecution)

	// 2. Hand the step context to the tasklet
	if err := s.tasklet.SetExecutionContext(ctx, stepExecution.ExecutionContext); err != nil {
		stepExecution.MarkAsFailed(err)
		if updateErr := s.jobRepository.UpdateStepExecution(ctx, stepExecution); updateErr != nil {
			logger.Errorf("TaskletStep '%s': Failed to update StepExecution: %v", s.id, updateErr)
		}
		return exception.NewBatchError(s.id, "failed to set Tasklet ExecutionContext", err, false)
	}

	s.notifyBeforeStep(ctx, stepExecution)

	// 3. Run the tasklet
	var exitStatus model.ExitStatus
	exitStatus, err = s.tasklet.Execute(ctx, stepExecution)

	// 4. Reflect the tasklet context into the StepExecution, even on failure
	if taskletEC, getErr := s.tasklet.GetExecutionContext(ctx); getErr == nil {
		stepExecution.ExecutionContext = taskletEC
	} else {
		logger.Warnf("TaskletStep '%s': Failed to retrieve ExecutionContext from Tasklet: %v", s.id, getErr)
	}

	if closeErr := s.tasklet.Close(ctx); closeErr != nil {
		logger.Errorf("TaskletStep '%s': Failed to close Tasklet: %v", s.id, closeErr)
		if err == nil {
			err = closeErr
		}
	}

	// 5. Final status
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		s.tracer.RecordError(ctx, s.id, err)
		stepExecution.AddFailureException(err)
		stepExecution.MarkAsStopped()
	case err != nil:
		s.tracer.RecordError(ctx, s.id, err)
		stepExecution.MarkAsFailed(err)
	default:
		stepExecution.MarkAsCompleted()
		if exitStatus != "" {
			stepExecution.ExitStatus = exitStatus
		}
	}

	s.notifyAfterStep(ctx, stepExecution)

	// 6. Persist; a failed write fails an otherwise successful step
	if updateErr := s.jobRepository.UpdateStepExecution(ctx, stepExecution); updateErr != nil {
		logger.Errorf("TaskletStep '%s': Failed to update final StepExecution state: %v", s.id, updateErr)
		if err == nil {
			err = updateErr
			stepExecution.MarkAsFailed(updateErr)
		}
	}

	logger.Infof("TaskletStep '%s' finished. ExitStatus: %s", s.id, stepExecution.ExitStatus)
	return err
}
