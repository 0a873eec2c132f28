// Package repository declares the persistence ports of the batch engine.
package repository

import (
	"errors"

	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

// ErrOptimisticLockingFailure is returned when an update finds the stored version changed.
var ErrOptimisticLockingFailure = errors.New("optimistic locking failure")

func init() {
	exception.RegisterErrorType("OptimisticLockingFailure", ErrOptimisticLockingFailure)
}

// JobRepository stores execution metadata and the retrain ledgers.
type JobRepository interface {
	JobExecution
	StepExecution
	DecisionLedger
	SpanLedger

	// Close releases resources held by the repository.
	Close() error
}
