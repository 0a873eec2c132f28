package repository

import (
	"context"
	"errors"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

var (
	// ErrDecisionNotFound is returned when a job execution has no recorded decision.
	ErrDecisionNotFound = errors.New("decision not found")
	// ErrSpanNotFound is returned when no span was ever published for a destination.
	ErrSpanNotFound = errors.New("span not found")
)

func init() {
	exception.RegisterErrorType("DecisionNotFound", ErrDecisionNotFound)
	exception.RegisterErrorType("SpanNotFound", ErrSpanNotFound)
}

// DecisionLedger records the retrain decision of each job execution.
type DecisionLedger interface {
	// RecordDecision stores the decision of record.JobExecutionID. A second call for the same
	// execution fails with exception.ErrDecisionAlreadyRecorded and leaves the first record intact.
	RecordDecision(ctx context.Context, record *model.DecisionRecord) error
	FindDecision(ctx context.Context, jobExecutionID string) (*model.DecisionRecord, error)
}

// SpanLedger records published spans.
type SpanLedger interface {
	RecordSpan(ctx context.Context, record *model.SpanRecord) error
	// FindLatestSpan returns the highest span published under destinationURI.
	FindLatestSpan(ctx context.Context, destinationURI string) (*model.SpanRecord, error)
}
