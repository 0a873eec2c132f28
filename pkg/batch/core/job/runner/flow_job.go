// Package runner executes job flows.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const moduleName = "job_runner"

// FlowJob runs the steps and decisions of a FlowDefinition one after another, following
// the transition rules. Elements execute strictly sequentially.
type FlowJob struct {
	id             string
	name           string
	flow           *model.FlowDefinition
	jobRepository  repository.JobRepository
	jobListeners   []port.JobExecutionListener
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

var _ port.Job = (*FlowJob)(nil)

// NewFlowJob creates a FlowJob. Nil recorder or tracer fall back to no-op implementations.
func NewFlowJob(
	id string,
	name string,
	flow *model.FlowDefinition,
	jobRepository repository.JobRepository,
	jobListeners []port.JobExecutionListener,
	metricRecorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *FlowJob {
	if metricRecorder == nil {
		metricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &FlowJob{
		id:             id,
		name:           name,
		flow:           flow,
		jobRepository:  jobRepository,
		jobListeners:   jobListeners,
		metricRecorder: metricRecorder,
		tracer:         tracer,
	}
}

func (j *FlowJob) ID() string                     { return j.id }
func (j *FlowJob) JobName() string                { return j.name }
func (j *FlowJob) GetFlow() *model.FlowDefinition { return j.flow }

// Run executes the flow from its start element until a transition ends it or no rule applies.
// The returned error is the failure that ended the execution; a completed job returns nil.
func (j *FlowJob) Run(ctx context.Context, jobExecution *model.JobExecution, jobParameters model.JobParameters) (runErr error) {
	logger.Infof("Starting Job '%s' (Execution ID: %s). Parameters: %s", j.name, jobExecution.ID, jobParameters.String())

	ctx, finishSpan := j.tracer.StartJobSpan(ctx, jobExecution)
	defer finishSpan()

	j.metricRecorder.RecordJobStart(ctx, jobExecution)
	for _, l := range j.jobListeners {
		l.BeforeJob(ctx, jobExecution)
	}

	defer func() {
		if jobExecution.EndTime == nil {
			now := time.Now()
			jobExecution.EndTime = &now
		}
		for _, l := range j.jobListeners {
			l.AfterJob(ctx, jobExecution)
		}
		j.metricRecorder.RecordJobEnd(ctx, jobExecution)
		logger.Infof("Job '%s' (Execution ID: %s) finished. Final Status: %s, Exit Status: %s",
			j.name, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus)
	}()

	fail := func(err error) error {
		j.tracer.RecordError(ctx, moduleName, err)
		if errors.Is(err, context.Canceled) {
			jobExecution.AddFailureException(err)
			jobExecution.MarkAsStopped()
		} else {
			jobExecution.MarkAsFailed(err)
		}
		return err
	}

	if err := j.flow.Validate(); err != nil {
		return fail(exception.NewBatchError(j.name, "invalid flow definition", err, false))
	}

	currentElementID := j.flow.StartElement
	for {
		if err := ctx.Err(); err != nil {
			logger.Warnf("Context cancelled, interrupting Job '%s': %v", j.name, err)
			return fail(err)
		}

		element, ok := j.flow.Elements[currentElementID].(port.FlowElement)
		if !ok {
			return fail(exception.NewBatchErrorf(j.name, "flow element '%s' is not a valid FlowElement (%T)", currentElementID, j.flow.Elements[currentElementID]))
		}

		var exitStatus model.ExitStatus
		var elementErr error

		switch elem := element.(type) {
		case port.Step:
			exitStatus, elementErr = j.runStep(ctx, elem, jobExecution)
			if elementErr != nil && exitStatus == model.ExitStatusUnknown {
				// Persisting the step failed before it ran.
				return fail(elementErr)
			}
		case port.Decision:
			exitStatus, elementErr = elem.Decide(ctx, jobExecution, jobParameters)
			if elementErr != nil {
				logger.Errorf("Job '%s': Decision '%s' failed: %v", j.name, elem.DecisionName(), elementErr)
				exitStatus = model.ExitStatusFailed
			} else {
				logger.Infof("Job '%s': Decision '%s' completed. Result: %s", j.name, elem.DecisionName(), exitStatus)
			}
		default:
			return fail(exception.NewBatchErrorf(j.name, "unknown flow element type %T (ID: %s)", element, currentElementID))
		}

		rule, found := j.flow.GetTransitionRule(element.ID(), exitStatus)
		switch {
		case !found && elementErr == nil:
			logger.Infof("Job '%s': No transition rule from '%s'. Completing job.", j.name, element.ID())
			jobExecution.MarkAsCompleted()
			return nil
		case !found:
			logger.Errorf("Job '%s': Element '%s' failed and no transition rule applies. Failing job.", j.name, element.ID())
			return fail(elementErr)
		case rule.Transition.End:
			logger.Infof("Job '%s': 'End' transition from '%s' on %s. Completing job.", j.name, element.ID(), exitStatus)
			jobExecution.MarkAsCompleted()
			return nil
		case rule.Transition.Fail:
			err := elementErr
			if err == nil {
				err = fmt.Errorf("explicit fail transition from %s on %s", element.ID(), exitStatus)
			}
			logger.Errorf("Job '%s': 'Fail' transition from '%s'. Failing job.", j.name, element.ID())
			return fail(err)
		case rule.Transition.Stop:
			logger.Infof("Job '%s': 'Stop' transition from '%s'. Stopping job.", j.name, element.ID())
			jobExecution.MarkAsStopped()
			return nil
		}

		if elementErr != nil {
			logger.Warnf("Job '%s': Element '%s' failed (%v); continuing with '%s' per transition rule.", j.name, element.ID(), elementErr, rule.Transition.To)
			jobExecution.AddFailureException(elementErr)
		}
		currentElementID = rule.Transition.To
	}
}

// runStep creates and persists a StepExecution, runs the step and promotes context keys.
func (j *FlowJob) runStep(ctx context.Context, step port.Step, jobExecution *model.JobExecution) (model.ExitStatus, error) {
	stepName := step.StepName()
	jobExecution.CurrentStepName = stepName

	stepExecution := model.NewStepExecution(model.NewID(), jobExecution, stepName)
	jobExecution.AddStepExecution(stepExecution)
	if err := j.jobRepository.SaveStepExecution(ctx, stepExecution); err != nil {
		logger.Errorf("Job '%s': Failed to save StepExecution for step '%s': %v", j.name, stepName, err)
		return model.ExitStatusUnknown, exception.NewBatchError(j.name, "error saving new StepExecution", err, false)
	}

	err := step.Execute(port.GetContextWithStepExecution(ctx, stepExecution), jobExecution, stepExecution)
	if err == nil {
		j.promote(ctx, step, stepExecution, jobExecution)
		logger.Infof("Job '%s': Step '%s' completed. ExitStatus: %s", j.name, stepName, stepExecution.ExitStatus)
	} else {
		logger.Errorf("Job '%s': Step '%s' failed: %v", j.name, stepName, err)
	}
	exitStatus := stepExecution.ExitStatus
	if exitStatus == model.ExitStatusUnknown {
		exitStatus = model.ExitStatusFailed
	}
	return exitStatus, err
}

func (j *FlowJob) promote(ctx context.Context, step port.Step, stepExecution *model.StepExecution, jobExecution *model.JobExecution) {
	promotion := step.GetExecutionContextPromotion()
	if promotion == nil {
		return
	}
	for _, key := range promotion.Keys {
		if val, ok := stepExecution.ExecutionContext.GetNested(key); ok {
			jobExecution.ExecutionContext.Put(key, val)
			logger.Debugf("FlowJob: Promoted key '%s' from step '%s'.", key, stepExecution.StepName)
		}
	}
	for stepKey, jobKey := range promotion.JobLevelKeys {
		if val, ok := stepExecution.ExecutionContext.GetNested(stepKey); ok {
			jobExecution.ExecutionContext.Put(jobKey, val)
			logger.Debugf("FlowJob: Promoted key '%s' as '%s' from step '%s'.", stepKey, jobKey, stepExecution.StepName)
		}
	}
	if err := j.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		logger.Errorf("FlowJob: Failed to persist promoted context of step '%s': %v", stepExecution.StepName, err)
	}
}
