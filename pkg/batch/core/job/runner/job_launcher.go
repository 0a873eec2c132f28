package runner

import (
	"context"

	"github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// JobLauncher creates a JobExecution, runs the job and persists the final state.
type JobLauncher struct {
	jobRepository repository.JobRepository
}

// NewJobLauncher creates a JobLauncher.
func NewJobLauncher(jobRepository repository.JobRepository) *JobLauncher {
	return &JobLauncher{jobRepository: jobRepository}
}

// Launch runs job synchronously. The returned execution is never nil once it has been saved;
// the error is the one that failed the job.
func (l *JobLauncher) Launch(ctx context.Context, job port.Job, params model.JobParameters) (*model.JobExecution, error) {
	jobExecution := model.NewJobExecution(job.JobName(), params)
	if err := l.jobRepository.SaveJobExecution(ctx, jobExecution); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to save job execution", err, false)
	}

	jobExecution.MarkAsStarted()
	if err := l.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		logger.Errorf("JobLauncher: Failed to mark JobExecution (ID: %s) as STARTED: %v", jobExecution.ID, err)
	}

	runErr := job.Run(ctx, jobExecution, params)
	if runErr != nil && !jobExecution.Status.IsFinished() {
		jobExecution.MarkAsFailed(runErr)
	} else if runErr == nil && !jobExecution.Status.IsFinished() {
		jobExecution.MarkAsCompleted()
	}

	// The final update must survive a cancelled run context.
	if err := l.jobRepository.UpdateJobExecution(context.WithoutCancel(ctx), jobExecution); err != nil {
		logger.Errorf("JobLauncher: Failed to persist final state of JobExecution (ID: %s): %v", jobExecution.ID, err)
	}
	return jobExecution, runErr
}
