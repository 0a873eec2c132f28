package sql

import (
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

func fromDomainJobExecution(je *model.JobExecution) *JobExecutionEntity {
	if je == nil {
		return nil
	}
	return &JobExecutionEntity{
		ID:               je.ID,
		JobName:          je.JobName,
		Parameters:       je.Parameters,
		StartTime:        je.StartTime,
		EndTime:          je.EndTime,
		Status:           je.Status,
		ExitStatus:       je.ExitStatus,
		Failures:         je.Failures,
		Version:          je.Version,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		ExecutionContext: je.ExecutionContext,
		CurrentStepName:  je.CurrentStepName,
	}
}

func toDomainJobExecution(entity *JobExecutionEntity) *model.JobExecution {
	if entity == nil {
		return nil
	}
	je := &model.JobExecution{
		ID:               entity.ID,
		JobName:          entity.JobName,
		Parameters:       entity.Parameters,
		StartTime:        entity.StartTime,
		EndTime:          entity.EndTime,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		Failures:         entity.Failures,
		Version:          entity.Version,
		CreateTime:       entity.CreateTime,
		LastUpdated:      entity.LastUpdated,
		ExecutionContext: entity.ExecutionContext,
		CurrentStepName:  entity.CurrentStepName,
		StepExecutions:   make([]*model.StepExecution, 0),
	}
	if je.Parameters.Params == nil {
		je.Parameters = model.NewJobParameters()
	}
	if je.ExecutionContext == nil {
		je.ExecutionContext = model.NewExecutionContext()
	}
	return je
}

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	if se == nil {
		return nil
	}
	jobExecutionID := se.JobExecutionID
	if jobExecutionID == "" && se.JobExecution != nil {
		jobExecutionID = se.JobExecution.ID
	}
	return &StepExecutionEntity{
		ID:               se.ID,
		StepName:         se.StepName,
		JobExecutionID:   jobExecutionID,
		StartTime:        se.StartTime,
		EndTime:          se.EndTime,
		Status:           se.Status,
		ExitStatus:       se.ExitStatus,
		Failures:         se.Failures,
		ExecutionContext: se.ExecutionContext,
		LastUpdated:      se.LastUpdated,
		Version:          se.Version,
	}
}

// toDomainStepExecution leaves JobExecution nil; the caller links it.
func toDomainStepExecution(entity *StepExecutionEntity) *model.StepExecution {
	if entity == nil {
		return nil
	}
	se := &model.StepExecution{
		ID:               entity.ID,
		StepName:         entity.StepName,
		JobExecutionID:   entity.JobExecutionID,
		StartTime:        entity.StartTime,
		EndTime:          entity.EndTime,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		Failures:         entity.Failures,
		ExecutionContext: entity.ExecutionContext,
		LastUpdated:      entity.LastUpdated,
		Version:          entity.Version,
	}
	if se.ExecutionContext == nil {
		se.ExecutionContext = model.NewExecutionContext()
	}
	return se
}

func fromDomainDecision(r *model.DecisionRecord) *DecisionEntity {
	return &DecisionEntity{
		JobExecutionID: r.JobExecutionID,
		Decision:       r.Decision,
		Accuracy:       r.Accuracy,
		Threshold:      r.Threshold,
		Total:          r.Total,
		Correct:        r.Correct,
		ResultsURI:     r.ResultsURI,
		RecordedAt:     r.RecordedAt,
	}
}

func toDomainDecision(e *DecisionEntity) *model.DecisionRecord {
	return &model.DecisionRecord{
		JobExecutionID: e.JobExecutionID,
		Decision:       e.Decision,
		Accuracy:       e.Accuracy,
		Threshold:      e.Threshold,
		Total:          e.Total,
		Correct:        e.Correct,
		ResultsURI:     e.ResultsURI,
		RecordedAt:     e.RecordedAt,
	}
}

func fromDomainSpan(r *model.SpanRecord) *SpanEntity {
	return &SpanEntity{
		Span:            r.Span,
		DestinationURI:  r.DestinationURI,
		JobExecutionID:  r.JobExecutionID,
		TrainCount:      r.TrainCount,
		ValidationCount: r.ValidationCount,
		PublishedAt:     r.PublishedAt,
	}
}

func toDomainSpan(e *SpanEntity) *model.SpanRecord {
	return &model.SpanRecord{
		Span:            e.Span,
		DestinationURI:  e.DestinationURI,
		JobExecutionID:  e.JobExecutionID,
		TrainCount:      e.TrainCount,
		ValidationCount: e.ValidationCount,
		PublishedAt:     e.PublishedAt,
	}
}
