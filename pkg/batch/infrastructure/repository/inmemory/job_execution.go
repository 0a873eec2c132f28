package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
)

func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[jobExecution.ID]; exists {
		return fmt.Errorf("JobExecution with ID %s already exists", jobExecution.ID)
	}
	r.jobExecutions[jobExecution.ID] = jobExecution
	return nil
}

func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[jobExecution.ID]; !exists {
		return fmt.Errorf("JobExecution with ID %s not found for update", jobExecution.ID)
	}
	jobExecution.Version++
	r.jobExecutions[jobExecution.ID] = jobExecution
	return nil
}

// FindJobExecutionByID returns a copy of the execution with its step executions ordered by start time.
func (r *InMemoryJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	je, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.cloneWithSteps(je), nil
}

// FindLatestJobExecution returns the most recently created execution of jobName.
func (r *InMemoryJobRepository) FindLatestJobExecution(ctx context.Context, jobName string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobName == jobName && (latest == nil || je.CreateTime.After(latest.CreateTime)) {
			latest = je
		}
	}
	if latest == nil {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.cloneWithSteps(latest), nil
}

func (r *InMemoryJobRepository) cloneWithSteps(je *model.JobExecution) *model.JobExecution {
	clone := *je
	clone.ExecutionContext = je.ExecutionContext.Copy()
	clone.StepExecutions = make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == je.ID {
			clone.StepExecutions = append(clone.StepExecutions, se)
		}
	}
	sort.Slice(clone.StepExecutions, func(i, j int) bool {
		return clone.StepExecutions[i].StartTime.Before(clone.StepExecutions[j].StartTime)
	})
	return &clone
}
