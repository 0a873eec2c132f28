package logging

import (
	"context"
	"strings"
	"time"

	"github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// --- Job Execution Listener ---

// LoggingJobListener logs job boundaries and a completion summary.
type LoggingJobListener struct{}

func NewLoggingJobListener() *LoggingJobListener {
	return &LoggingJobListener{}
}

func (l *LoggingJobListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
	logger.Infof("JobExecutionListener: BeforeJob - JobName: %s, ID: %s, Params: %s", jobExecution.JobName, jobExecution.ID, jobExecution.Parameters.String())
}

func (l *LoggingJobListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	duration := time.Duration(0)
	if jobExecution.EndTime != nil {
		duration = jobExecution.EndTime.Sub(jobExecution.StartTime)
	}
	steps := make([]string, 0, len(jobExecution.StepExecutions))
	for _, se := range jobExecution.StepExecutions {
		steps = append(steps, se.StepName+"="+se.ExitStatus.String())
	}

	if jobExecution.Status == model.BatchStatusCompleted {
		logger.Infof("JobExecutionListener: AfterJob - JobName: %s, Status: %s, ExitStatus: %s, Duration: %s, Steps: [%s]",
			jobExecution.JobName, jobExecution.Status, jobExecution.ExitStatus, duration, strings.Join(steps, ", "))
		return
	}
	logger.Warnf("JobExecutionListener: AfterJob - JobName: %s, Status: %s, ExitStatus: %s, Duration: %s, Steps: [%s], Failures: %s",
		jobExecution.JobName, jobExecution.Status, jobExecution.ExitStatus, duration, strings.Join(steps, ", "), strings.Join(jobExecution.Failures, "; "))
}

var _ port.JobExecutionListener = (*LoggingJobListener)(nil)

// --- Step Execution Listener ---

type LoggingStepListener struct{}

func NewLoggingStepListener() *LoggingStepListener {
	return &LoggingStepListener{}
}

func (l *LoggingStepListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepExecutionListener: BeforeStep - StepName: %s, ID: %s", stepExecution.StepName, stepExecution.ID)
}

func (l *LoggingStepListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	if len(stepExecution.Failures) > 0 {
		logger.Warnf("StepExecutionListener: AfterStep - StepName: %s, Status: %s, ExitStatus: %s, Failures: %s",
			stepExecution.StepName, stepExecution.Status, stepExecution.ExitStatus, strings.Join(stepExecution.Failures, "; "))
		return
	}
	logger.Infof("StepExecutionListener: AfterStep - StepName: %s, Status: %s, ExitStatus: %s", stepExecution.StepName, stepExecution.Status, stepExecution.ExitStatus)
}

var _ port.StepExecutionListener = (*LoggingStepListener)(nil)
