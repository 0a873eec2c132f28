package test

import (
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

// NewTestJobParameters creates JobParameters for testing.
func NewTestJobParameters(params map[string]interface{}) model.JobParameters {
	jp := model.NewJobParameters()
	for k, v := range params {
		jp.Put(k, v)
	}
	return jp
}

// NewTestJobExecution creates a started JobExecution for testing.
func NewTestJobExecution(jobName string, params map[string]interface{}) *model.JobExecution {
	je := model.NewJobExecution(jobName, NewTestJobParameters(params))
	je.MarkAsStarted()
	return je
}

// NewTestStepExecution creates a StepExecution attached to jobExecution.
func NewTestStepExecution(jobExecution *model.JobExecution, stepName string) *model.StepExecution {
	se := model.NewStepExecution(model.NewID(), jobExecution, stepName)
	jobExecution.AddStepExecution(se)
	return se
}

// NewTestExecutionContext creates an ExecutionContext for testing.
func NewTestExecutionContext(data map[string]interface{}) model.ExecutionContext {
	ec := model.NewExecutionContext()
	for k, v := range data {
		ec.Put(k, v)
	}
	return ec
}
