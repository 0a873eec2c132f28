package sql

import (
	"context"
	"fmt"
	"time"

	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

// RecordDecision inserts the decision row. The primary key on job_execution_id rejects a second
// decision for the same execution, which is reported as exception.ErrDecisionAlreadyRecorded.
// Unlike execution metadata, a missing ledger table is an error.
func (r *SQLJobRepository) RecordDecision(ctx context.Context, record *model.DecisionRecord) error {
	const op = "SQLJobRepository.RecordDecision"
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now()
	}
	entity := fromDomainDecision(record)

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		if conn.IsDuplicateKeyError(err) {
			return exception.NewBatchErrorf(op, "decision for JobExecution (ID: %s) already recorded", record.JobExecutionID, exception.ErrDecisionAlreadyRecorded)
		}
		if conn.IsTableNotExistError(err) {
			return exception.NewBatchError(op, "decision ledger table missing; run `retrainer migrate`", err, false)
		}
		return exception.NewBatchError(op, fmt.Sprintf("failed to record decision of JobExecution (ID: %s)", record.JobExecutionID), err, false)
	}
	return nil
}

func (r *SQLJobRepository) FindDecision(ctx context.Context, jobExecutionID string) (*model.DecisionRecord, error) {
	const op = "SQLJobRepository.FindDecision"
	var entity DecisionEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"job_execution_id": jobExecutionID}, "", 1); err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrDecisionNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find decision of JobExecution (ID: %s)", jobExecutionID), err, false)
	}
	if entity.JobExecutionID == "" {
		return nil, repository.ErrDecisionNotFound
	}
	return toDomainDecision(&entity), nil
}

func (r *SQLJobRepository) RecordSpan(ctx context.Context, record *model.SpanRecord) error {
	const op = "SQLJobRepository.RecordSpan"
	if record.PublishedAt.IsZero() {
		record.PublishedAt = time.Now()
	}
	entity := fromDomainSpan(record)

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		if conn.IsTableNotExistError(err) {
			return exception.NewBatchError(op, "span ledger table missing; run `retrainer migrate`", err, false)
		}
		return exception.NewBatchError(op, fmt.Sprintf("failed to record span %d of %s", record.Span, record.DestinationURI), err, false)
	}
	return nil
}

// FindLatestSpan returns the highest span published under destinationURI.
func (r *SQLJobRepository) FindLatestSpan(ctx context.Context, destinationURI string) (*model.SpanRecord, error) {
	const op = "SQLJobRepository.FindLatestSpan"
	var entity SpanEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"destination_uri": destinationURI}, "span desc", 1); err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrSpanNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find latest span of %s", destinationURI), err, false)
	}
	if entity.DestinationURI == "" {
		return nil, repository.ErrSpanNotFound
	}
	return toDomainSpan(&entity), nil
}
