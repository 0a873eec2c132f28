package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// NewID returns a random UUID string.
func NewID() string {
	return uuid.New().String()
}

// FailureList holds failure messages. It is persisted as a JSON array.
type FailureList []string

// Value implements driver.Valuer.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (fl *FailureList) Scan(value interface{}) error {
	b, err := scanBytes(value, "FailureList")
	if err != nil {
		return err
	}
	*fl = FailureList{}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, fl)
}

func (fl *FailureList) add(err error) bool {
	if err == nil {
		return false
	}
	msg := exception.ExtractErrorMessage(err)
	for _, existing := range *fl {
		if existing == msg {
			return false
		}
	}
	*fl = append(*fl, msg)
	return true
}

// JobExecution is one run of a job.
type JobExecution struct {
	ID               string
	JobName          string
	Parameters       JobParameters
	StartTime        time.Time
	EndTime          *time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	Failures         FailureList
	CreateTime       time.Time
	LastUpdated      time.Time
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext
	CurrentStepName  string
	Version          int
}

// NewJobExecution creates a JobExecution in STARTING state.
func NewJobExecution(jobName string, params JobParameters) *JobExecution {
	now := time.Now()
	if params.Params == nil {
		params = NewJobParameters()
	}
	return &JobExecution{
		ID:               NewID(),
		JobName:          jobName,
		Parameters:       params,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         FailureList{},
		CreateTime:       now,
		LastUpdated:      now,
		ExecutionContext: NewExecutionContext(),
	}
}

// TransitionTo changes the status if the transition is allowed.
func (je *JobExecution) TransitionTo(next JobStatus) error {
	if !isValidJobTransition(je.Status, next) {
		return fmt.Errorf("JobExecution (ID: %s): invalid state transition: %s -> %s", je.ID, je.Status, next)
	}
	je.Status = next
	return nil
}

func (je *JobExecution) force(next JobStatus) {
	if err := je.TransitionTo(next); err != nil {
		logger.Warnf("%v. Forcing %s.", err, next)
		je.Status = next
	}
}

func (je *JobExecution) finish(status JobStatus) {
	je.force(status)
	je.ExitStatus = status.ToExitStatus()
	now := time.Now()
	je.EndTime = &now
	je.LastUpdated = now
}

func (je *JobExecution) MarkAsStarted() {
	je.force(BatchStatusStarted)
	je.LastUpdated = time.Now()
}

func (je *JobExecution) MarkAsCompleted() { je.finish(BatchStatusCompleted) }

func (je *JobExecution) MarkAsStopped() { je.finish(BatchStatusStopped) }

func (je *JobExecution) MarkAsAbandoned() { je.finish(BatchStatusAbandoned) }

// MarkAsFailed finishes the execution as FAILED and records err.
func (je *JobExecution) MarkAsFailed(err error) {
	je.finish(BatchStatusFailed)
	je.AddFailureException(err)
}

// AddFailureException records err once.
func (je *JobExecution) AddFailureException(err error) {
	if je.Failures.add(err) {
		je.LastUpdated = time.Now()
	}
}

func (je *JobExecution) AddStepExecution(se *StepExecution) {
	je.StepExecutions = append(je.StepExecutions, se)
}

// StepExecution is one run of a step within a job execution.
type StepExecution struct {
	ID               string
	StepName         string
	JobExecution     *JobExecution
	JobExecutionID   string
	StartTime        time.Time
	EndTime          *time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	Failures         FailureList
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
	Version          int
}

// NewStepExecution creates a StepExecution in STARTING state bound to jobExecution.
func NewStepExecution(id string, jobExecution *JobExecution, stepName string) *StepExecution {
	now := time.Now()
	return &StepExecution{
		ID:               id,
		StepName:         stepName,
		JobExecution:     jobExecution,
		JobExecutionID:   jobExecution.ID,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         FailureList{},
		ExecutionContext: NewExecutionContext(),
		LastUpdated:      now,
	}
}

// TransitionTo changes the status if the transition is allowed.
func (se *StepExecution) TransitionTo(next JobStatus) error {
	if !isValidStepTransition(se.Status, next) {
		return fmt.Errorf("StepExecution (ID: %s): invalid state transition: %s -> %s", se.ID, se.Status, next)
	}
	se.Status = next
	return nil
}

func (se *StepExecution) force(next JobStatus) {
	if err := se.TransitionTo(next); err != nil {
		logger.Warnf("%v. Forcing %s.", err, next)
		se.Status = next
	}
}

func (se *StepExecution) finish(status JobStatus) {
	se.force(status)
	se.ExitStatus = status.ToExitStatus()
	now := time.Now()
	se.EndTime = &now
	se.LastUpdated = now
}

func (se *StepExecution) MarkAsStarted() {
	se.force(BatchStatusStarted)
	se.LastUpdated = time.Now()
}

func (se *StepExecution) MarkAsCompleted() { se.finish(BatchStatusCompleted) }

func (se *StepExecution) MarkAsStopped() { se.finish(BatchStatusStopped) }

// MarkAsFailed finishes the step as FAILED and records err.
func (se *StepExecution) MarkAsFailed(err error) {
	se.finish(BatchStatusFailed)
	se.AddFailureException(err)
}

// AddFailureException records err once.
func (se *StepExecution) AddFailureException(err error) {
	if se.Failures.add(err) {
		se.LastUpdated = time.Now()
	}
}
