package exception

import (
	"context"
	"errors"
)

// Sentinel errors of the retrain workflow. Stages wrap them in a *BatchError; callers test
// for them with errors.Is.
var (
	// ErrEmptyResultSet means the latest prediction output held no records.
	ErrEmptyResultSet = errors.New("empty result set")
	// ErrMalformedRecord means a prediction line could not be parsed.
	ErrMalformedRecord = errors.New("malformed prediction record")
	// ErrUnknownLabel means a sample's file name prefix is not in the label vocabulary.
	ErrUnknownLabel = errors.New("unknown label")
	// ErrNoPriorSpan means no span exists and bootstrapping is disabled.
	ErrNoPriorSpan = errors.New("no prior span")
	// ErrNoSamples means the source prefix held no images to consume.
	ErrNoSamples = errors.New("no samples")
	// ErrPipelineSpecNotFound means the compiled pipeline definition does not exist.
	ErrPipelineSpecNotFound = errors.New("pipeline spec not found")
	// ErrMissingSpan means the trigger ran without a published latest span.
	ErrMissingSpan = errors.New("missing latest span")
	// ErrTransientIO marks storage or service failures that may succeed on retry.
	ErrTransientIO = errors.New("transient i/o failure")
	// ErrTimeout means an operation exceeded its configured deadline.
	ErrTimeout = errors.New("timeout")
	// ErrLockHeld means another retrain cycle owns the single-flight lock.
	ErrLockHeld = errors.New("retrain cycle already running")
	// ErrDecisionAlreadyRecorded means the job execution already has a decision in the ledger.
	ErrDecisionAlreadyRecorded = errors.New("decision already recorded")
	// ErrNoRetrainDecision means a span was requested without a recorded RETRAIN decision.
	ErrNoRetrainDecision = errors.New("no retrain decision")
)

func init() {
	RegisterErrorType("EmptyResultSet", ErrEmptyResultSet)
	RegisterErrorType("MalformedRecord", ErrMalformedRecord)
	RegisterErrorType("UnknownLabel", ErrUnknownLabel)
	RegisterErrorType("NoPriorSpan", ErrNoPriorSpan)
	RegisterErrorType("NoSamples", ErrNoSamples)
	RegisterErrorType("PipelineSpecNotFound", ErrPipelineSpecNotFound)
	RegisterErrorType("MissingSpan", ErrMissingSpan)
	RegisterErrorType("TransientIO", ErrTransientIO)
	RegisterErrorType("Timeout", ErrTimeout)
	RegisterErrorType("LockHeld", ErrLockHeld)
	RegisterErrorType("DecisionAlreadyRecorded", ErrDecisionAlreadyRecorded)
	RegisterErrorType("NoRetrainDecision", ErrNoRetrainDecision)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
}

// Wrap builds a non-retryable BatchError whose cause chains to both kind and cause.
func Wrap(module, message string, kind, cause error) *BatchError {
	return NewBatchError(module, message, join(kind, cause), errors.Is(kind, ErrTransientIO))
}

// NewTransientError wraps cause as a retryable ErrTransientIO failure.
func NewTransientError(module, message string, cause error) *BatchError {
	return NewBatchError(module, message, join(ErrTransientIO, cause), true)
}

// NewTimeoutError wraps cause as an ErrTimeout failure.
func NewTimeoutError(module, message string, cause error) *BatchError {
	return NewBatchError(module, message, join(ErrTimeout, cause), false)
}

// FromContext converts a context deadline into ErrTimeout and returns other errors unchanged.
func FromContext(module, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return NewTimeoutError(module, message, err)
	}
	return err
}

func join(kind, cause error) error {
	if cause == nil || errors.Is(cause, kind) {
		if cause == nil {
			return kind
		}
		return cause
	}
	return errors.Join(kind, cause)
}
