package tasklet

import (
	"context"
	"errors"
	"slices"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/internal/retrain/pipeline"
	"github.com/tigerroll/retrainer/internal/retrain/span"
	"github.com/tigerroll/retrainer/internal/retrain/trigger"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	port "github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const pipelineTriggerTaskletName = "pipeline_trigger_tasklet"

// PipelineTriggerTasklet submits the training pipeline over the span window ending at the span
// published by the previous step.
type PipelineTriggerTasklet struct {
	contextHolder
	resolver storage.StorageConnectionResolver
	services pipeline.ServiceFactory
	cfg      config.RetrainConfig
	// spans is set by WithSpanDiscovery.
	spans repository.SpanLedger
}

var _ port.Tasklet = (*PipelineTriggerTasklet)(nil)

// NewPipelineTriggerTasklet creates a PipelineTriggerTasklet.
func NewPipelineTriggerTasklet(resolver storage.StorageConnectionResolver, services pipeline.ServiceFactory, cfg config.RetrainConfig) *PipelineTriggerTasklet {
	return &PipelineTriggerTasklet{contextHolder: newContextHolder(), resolver: resolver, services: services, cfg: cfg}
}

// WithSpanDiscovery falls back to the latest published span when no span was published earlier
// in the job: the one recorded in ledger for the destination root, or else the highest span
// directory holding a manifest.
func (t *PipelineTriggerTasklet) WithSpanDiscovery(ledger repository.SpanLedger) *PipelineTriggerTasklet {
	t.spans = ledger
	return t
}

// Execute reads domain.LatestSpanKey from the job context and publishes the run name under
// domain.PipelineRunKey.
func (t *PipelineTriggerTasklet) Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	conn, err := resolveStorage(ctx, t.resolver, t.cfg.StorageRef, pipelineTriggerTaskletName)
	if err != nil {
		return model.ExitStatusFailed, err
	}

	var latest *int
	if n, ok := domain.LatestSpanKey.Get(jobContext(stepExecution)); ok {
		latest = &n
	} else if t.spans != nil {
		if latest, err = t.discoverLatest(ctx, conn); err != nil {
			return model.ExitStatusFailed, err
		}
	}
	run, err := trigger.NewTrigger(conn, t.services, t.cfg.Trigger, t.cfg.Span).Run(ctx, latest)
	if err != nil {
		return model.ExitStatusFailed, err
	}
	domain.PipelineRunKey.Put(stepExecution.ExecutionContext, run.Name)
	return model.ExitStatusCompleted, nil
}

func (t *PipelineTriggerTasklet) discoverLatest(ctx context.Context, conn storage.StorageExecutor) (*int, error) {
	root := t.cfg.Span.DestinationURI
	rec, err := t.spans.FindLatestSpan(ctx, root)
	switch {
	case err == nil:
		logger.Infof("Using span %d recorded by job execution '%s' for '%s'.", rec.Span, rec.JobExecutionID, root)
		return &rec.Span, nil
	case !errors.Is(err, repository.ErrSpanNotFound):
		return nil, exception.NewBatchError(pipelineTriggerTaskletName, "failed to look up the latest span", err, false)
	}

	dest, err := storage.ParseURI(root)
	if err != nil {
		return nil, exception.NewBatchError(pipelineTriggerTaskletName, "invalid span destination URI", err, false)
	}
	spans, err := span.PublishedSpans(ctx, conn, dest)
	if err != nil || len(spans) == 0 {
		return nil, err
	}
	latest := slices.Max(spans)
	logger.Infof("Using latest published span %d below '%s'.", latest, dest)
	return &latest, nil
}
