// Package flow provides generic Decision implementations for job flows.
package flow

import (
	"context"
	"fmt"

	"github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// ConditionalDecision routes the flow on a typed value of the job ExecutionContext.
// The value's String form becomes the ExitStatus, so transition rules are written against it
// directly (e.g. "RETRAIN" or "KEEP").
type ConditionalDecision[T fmt.Stringer] struct {
	id            string
	conditionKey  model.Key[T]
	defaultStatus model.ExitStatus
	// failOnMissing turns an absent key into an error instead of defaultStatus.
	failOnMissing bool
}

var _ port.Decision = (*ConditionalDecision[model.ExitStatus])(nil)

// NewConditionalDecision creates a decision reading conditionKey. A missing key yields ExitStatusFailed.
func NewConditionalDecision[T fmt.Stringer](id string, conditionKey model.Key[T]) *ConditionalDecision[T] {
	return &ConditionalDecision[T]{
		id:            id,
		conditionKey:  conditionKey,
		defaultStatus: model.ExitStatusFailed,
	}
}

// WithDefaultStatus sets the status returned when the key is absent.
func (d *ConditionalDecision[T]) WithDefaultStatus(status model.ExitStatus) *ConditionalDecision[T] {
	d.defaultStatus = status
	return d
}

// FailOnMissing makes an absent key an error.
func (d *ConditionalDecision[T]) FailOnMissing() *ConditionalDecision[T] {
	d.failOnMissing = true
	return d
}

// Decide determines the ExitStatus from the value in the job ExecutionContext.
func (d *ConditionalDecision[T]) Decide(ctx context.Context, jobExecution *model.JobExecution, jobParameters model.JobParameters) (model.ExitStatus, error) {
	logger.Debugf("ConditionalDecision '%s' invoked. conditionKey='%s'", d.id, d.conditionKey.Name())

	value, ok := d.conditionKey.Get(jobExecution.ExecutionContext)
	if !ok {
		if d.failOnMissing {
			return model.ExitStatusFailed, fmt.Errorf("decision '%s': key '%s' not found in JobExecutionContext", d.id, d.conditionKey.Name())
		}
		logger.Warnf("ConditionalDecision '%s': Key '%s' not found in JobExecutionContext. Returning default status '%s'.", d.id, d.conditionKey.Name(), d.defaultStatus)
		return d.defaultStatus, nil
	}

	status := model.ExitStatus(value.String())
	logger.Infof("ConditionalDecision '%s': '%s' is %s.", d.id, d.conditionKey.Name(), status)
	return status, nil
}

// DecisionName returns the name of the Decision.
func (d *ConditionalDecision[T]) DecisionName() string {
	return d.id
}

// ID returns the ID of the Decision.
func (d *ConditionalDecision[T]) ID() string {
	return d.id
}
