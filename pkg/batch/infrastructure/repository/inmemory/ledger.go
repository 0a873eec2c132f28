package inmemory

import (
	"context"
	"time"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

// RecordDecision stores the first decision of a job execution and rejects any later one.
func (r *InMemoryJobRepository) RecordDecision(ctx context.Context, record *model.DecisionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decisions[record.JobExecutionID]; exists {
		return exception.NewBatchErrorf("repository", "decision for job execution %s already recorded", record.JobExecutionID, exception.ErrDecisionAlreadyRecorded)
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now()
	}
	r.decisions[record.JobExecutionID] = *record
	return nil
}

func (r *InMemoryJobRepository) FindDecision(ctx context.Context, jobExecutionID string) (*model.DecisionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.decisions[jobExecutionID]
	if !ok {
		return nil, repository.ErrDecisionNotFound
	}
	return &rec, nil
}

func (r *InMemoryJobRepository) RecordSpan(ctx context.Context, record *model.SpanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.PublishedAt.IsZero() {
		record.PublishedAt = time.Now()
	}
	r.spans[record.DestinationURI] = append(r.spans[record.DestinationURI], *record)
	return nil
}

func (r *InMemoryJobRepository) FindLatestSpan(ctx context.Context, destinationURI string) (*model.SpanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.spans[destinationURI]
	if len(records) == 0 {
		return nil, repository.ErrSpanNotFound
	}
	latest := records[0]
	for _, rec := range records[1:] {
		if rec.Span > latest.Span {
			latest = rec
		}
	}
	return &latest, nil
}
