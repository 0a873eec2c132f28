package sql

import (
	"time"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

// JobExecutionEntity is the persisted form of model.JobExecution.
type JobExecutionEntity struct {
	ID               string                 `gorm:"column:id;primaryKey"`
	JobName          string                 `gorm:"column:job_name"`
	Parameters       model.JobParameters    `gorm:"column:parameters"`
	StartTime        time.Time              `gorm:"column:start_time"`
	EndTime          *time.Time             `gorm:"column:end_time"`
	Status           model.JobStatus        `gorm:"column:status"`
	ExitStatus       model.ExitStatus       `gorm:"column:exit_status"`
	Failures         model.FailureList      `gorm:"column:failures"`
	Version          int                    `gorm:"column:version"`
	CreateTime       time.Time              `gorm:"column:create_time"`
	LastUpdated      time.Time              `gorm:"column:last_updated"`
	ExecutionContext model.ExecutionContext `gorm:"column:execution_context"`
	CurrentStepName  string                 `gorm:"column:current_step_name"`
}

func (JobExecutionEntity) TableName() string {
	return "batch_job_execution"
}

// StepExecutionEntity is the persisted form of model.StepExecution.
type StepExecutionEntity struct {
	ID               string                 `gorm:"column:id;primaryKey"`
	StepName         string                 `gorm:"column:step_name"`
	JobExecutionID   string                 `gorm:"column:job_execution_id"`
	StartTime        time.Time              `gorm:"column:start_time"`
	EndTime          *time.Time             `gorm:"column:end_time"`
	Status           model.JobStatus        `gorm:"column:status"`
	ExitStatus       model.ExitStatus       `gorm:"column:exit_status"`
	Failures         model.FailureList      `gorm:"column:failures"`
	ExecutionContext model.ExecutionContext `gorm:"column:execution_context"`
	LastUpdated      time.Time              `gorm:"column:last_updated"`
	Version          int                    `gorm:"column:version"`
}

func (StepExecutionEntity) TableName() string {
	return "batch_step_execution"
}

// DecisionEntity is one row of the decision ledger. The primary key makes the decision
// of a job execution write-once.
type DecisionEntity struct {
	JobExecutionID string    `gorm:"column:job_execution_id;primaryKey"`
	Decision       string    `gorm:"column:decision"`
	Accuracy       float64   `gorm:"column:accuracy"`
	Threshold      float64   `gorm:"column:threshold"`
	Total          int       `gorm:"column:total"`
	Correct        int       `gorm:"column:correct"`
	ResultsURI     string    `gorm:"column:results_uri"`
	RecordedAt     time.Time `gorm:"column:recorded_at"`
}

func (DecisionEntity) TableName() string {
	return "retrain_decisions"
}

// SpanEntity is one row of the span ledger.
type SpanEntity struct {
	Span            int       `gorm:"column:span;primaryKey;autoIncrement:false"`
	DestinationURI  string    `gorm:"column:destination_uri;primaryKey"`
	JobExecutionID  string    `gorm:"column:job_execution_id"`
	TrainCount      int       `gorm:"column:train_count"`
	ValidationCount int       `gorm:"column:validation_count"`
	PublishedAt     time.Time `gorm:"column:published_at"`
}

func (SpanEntity) TableName() string {
	return "retrain_spans"
}
