// Package inmemory implements repository.JobRepository with maps. Nothing survives the process,
// which makes it the default for single-shot runs and the repository used by tests.
package inmemory

import (
	"sync"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
)

// InMemoryJobRepository is a map backed repository.JobRepository.
type InMemoryJobRepository struct {
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*model.StepExecution
	decisions      map[string]model.DecisionRecord
	spans          map[string][]model.SpanRecord
	mu             sync.RWMutex
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)

// NewInMemoryJobRepository returns an empty repository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*model.StepExecution),
		decisions:      make(map[string]model.DecisionRecord),
		spans:          make(map[string][]model.SpanRecord),
	}
}

// Close implements repository.JobRepository.
func (r *InMemoryJobRepository) Close() error {
	return nil
}
