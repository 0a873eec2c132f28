package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

// StepSummary is one step of a Report.
type StepSummary struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	ExitStatus string `json:"exit_status"`
	Duration   string `json:"duration,omitempty"`
}

// Report summarizes a finished execution for the command line.
type Report struct {
	JobName     string        `json:"job_name"`
	ExecutionID string        `json:"execution_id"`
	Status      string        `json:"status"`
	ExitStatus  string        `json:"exit_status"`
	Steps       []StepSummary `json:"steps"`
	Decision    string        `json:"decision,omitempty"`
	Accuracy    *float64      `json:"accuracy,omitempty"`
	Threshold   *float64      `json:"threshold,omitempty"`
	Total       int           `json:"total,omitempty"`
	Span        *int          `json:"span,omitempty"`
	PipelineRun string        `json:"pipeline_run,omitempty"`
	Failures    []string      `json:"failures,omitempty"`
}

// NewReport reads the summary out of je and its job context.
func NewReport(je *model.JobExecution) *Report {
	r := &Report{
		JobName:     je.JobName,
		ExecutionID: je.ID,
		Status:      string(je.Status),
		ExitStatus:  string(je.ExitStatus),
	}
	for _, se := range je.StepExecutions {
		s := StepSummary{Name: se.StepName, Status: string(se.Status), ExitStatus: string(se.ExitStatus)}
		if se.EndTime != nil {
			s.Duration = se.EndTime.Sub(se.StartTime).Round(time.Millisecond).String()
		}
		r.Steps = append(r.Steps, s)
	}
	if d, ok := domain.DecisionKey.Get(je.ExecutionContext); ok {
		r.Decision = d.String()
	}
	if ev, ok := domain.EvaluationKey.Get(je.ExecutionContext); ok {
		r.Accuracy, r.Threshold, r.Total = &ev.Accuracy, &ev.Threshold, ev.Total
	}
	if n, ok := domain.LatestSpanKey.Get(je.ExecutionContext); ok {
		r.Span = &n
	}
	r.PipelineRun, _ = domain.PipelineRunKey.Get(je.ExecutionContext)
	r.Failures = append(r.Failures, je.Failures...)
	return r
}

// Render returns the report as text tables.
func (r *Report) Render() string {
	var sb strings.Builder

	summary := table.NewWriter()
	summary.SetStyle(table.StyleRounded)
	summary.AppendRow(table.Row{"Job", r.JobName})
	summary.AppendRow(table.Row{"Execution", r.ExecutionID})
	summary.AppendRow(table.Row{"Status", fmt.Sprintf("%s (%s)", r.Status, r.ExitStatus)})
	if r.Accuracy != nil {
		summary.AppendRow(table.Row{"Accuracy", fmt.Sprintf("%.2f%% of %d (threshold %.2f%%)", *r.Accuracy*100, r.Total, *r.Threshold*100)})
	}
	if r.Decision != "" {
		summary.AppendRow(table.Row{"Decision", r.Decision})
	}
	if r.Span != nil {
		summary.AppendRow(table.Row{"Span", *r.Span})
	}
	if r.PipelineRun != "" {
		summary.AppendRow(table.Row{"Pipeline run", r.PipelineRun})
	}
	for _, f := range r.Failures {
		summary.AppendRow(table.Row{"Failure", f})
	}
	sb.WriteString(summary.Render())
	sb.WriteByte('\n')

	if len(r.Steps) == 0 {
		return sb.String()
	}
	steps := table.NewWriter()
	steps.SetStyle(table.StyleRounded)
	steps.AppendHeader(table.Row{"Step", "Status", "Exit status", "Duration"})
	for _, s := range r.Steps {
		steps.AppendRow(table.Row{s.Name, s.Status, s.ExitStatus, s.Duration})
	}
	steps.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	sb.WriteString(steps.Render())
	sb.WriteByte('\n')
	return sb.String()
}
