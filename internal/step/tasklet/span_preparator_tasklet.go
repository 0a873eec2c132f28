package tasklet

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/internal/retrain/span"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	port "github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const spanPreparatorTaskletName = "span_preparator_tasklet"

// SpanPreparatorTasklet turns the accumulated images into the next training span.
type SpanPreparatorTasklet struct {
	contextHolder
	resolver storage.StorageConnectionResolver
	ledger   repository.SpanLedger
	recorder metrics.MetricRecorder
	cfg      config.RetrainConfig
	rng      *rand.Rand

	executions repository.JobRepository
	deciders   []string
}

var _ port.Tasklet = (*SpanPreparatorTasklet)(nil)

// NewSpanPreparatorTasklet creates a SpanPreparatorTasklet. A nil rng is seeded from span.seed.
func NewSpanPreparatorTasklet(
	resolver storage.StorageConnectionResolver,
	ledger repository.SpanLedger,
	recorder metrics.MetricRecorder,
	cfg config.RetrainConfig,
	rng *rand.Rand,
) *SpanPreparatorTasklet {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &SpanPreparatorTasklet{
		contextHolder: newContextHolder(),
		resolver:      resolver,
		ledger:        ledger,
		recorder:      recorder,
		cfg:           cfg,
		rng:           rng,
	}
}

// RequireRetrainDecision makes Execute refuse to run unless the most recent decision recorded
// by any of the deciders jobs is RETRAIN.
func (t *SpanPreparatorTasklet) RequireRetrainDecision(repo repository.JobRepository, deciders ...string) *SpanPreparatorTasklet {
	t.executions = repo
	t.deciders = deciders
	return t
}

// Execute commits the span and publishes its number under domain.LatestSpanKey.
func (t *SpanPreparatorTasklet) Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	if t.executions != nil {
		if err := t.checkDecision(ctx); err != nil {
			return model.ExitStatusFailed, err
		}
	}
	conn, err := resolveStorage(ctx, t.resolver, t.cfg.StorageRef, spanPreparatorTaskletName)
	if err != nil {
		return model.ExitStatusFailed, err
	}
	preparator, err := span.NewPreparator(conn, t.cfg.Span, t.rng)
	if err != nil {
		return model.ExitStatusFailed, err
	}
	res, err := preparator.Prepare(ctx)
	if err != nil {
		return model.ExitStatusFailed, err
	}

	domain.LatestSpanKey.Put(stepExecution.ExecutionContext, res.Span)
	t.recorder.RecordSpanPublished(ctx, res.Span, res.TrainCount, res.ValidationCount)

	err = t.ledger.RecordSpan(ctx, &model.SpanRecord{
		Span:            res.Span,
		DestinationURI:  t.cfg.Span.DestinationURI,
		JobExecutionID:  stepExecution.JobExecutionID,
		TrainCount:      res.TrainCount,
		ValidationCount: res.ValidationCount,
		PublishedAt:     time.Now(),
	})
	if err != nil {
		return model.ExitStatusFailed, exception.NewBatchError(spanPreparatorTaskletName, "failed to record the span", err, false)
	}
	logger.Infof("Span %d is ready at '%s' (train %d, validation %d, resumed %t).",
		res.Span, res.DestinationURI, res.TrainCount, res.ValidationCount, res.Resumed)
	return model.ExitStatusCompleted, nil
}

// checkDecision finds the newest decision across the latest execution of each decider job.
func (t *SpanPreparatorTasklet) checkDecision(ctx context.Context) error {
	var latest *model.DecisionRecord
	for _, name := range t.deciders {
		je, err := t.executions.FindLatestJobExecution(ctx, name)
		if errors.Is(err, repository.ErrJobExecutionNotFound) {
			continue
		}
		if err != nil {
			return exception.NewBatchError(spanPreparatorTaskletName, fmt.Sprintf("failed to find the latest execution of '%s'", name), err, false)
		}
		rec, err := t.executions.FindDecision(ctx, je.ID)
		if errors.Is(err, repository.ErrDecisionNotFound) {
			continue
		}
		if err != nil {
			return exception.NewBatchError(spanPreparatorTaskletName, fmt.Sprintf("failed to read the decision of '%s'", je.ID), err, false)
		}
		if latest == nil || rec.RecordedAt.After(latest.RecordedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return exception.Wrap(spanPreparatorTaskletName, "no decision has been recorded", exception.ErrNoRetrainDecision, nil)
	}
	if latest.Decision != domain.DecisionRetrain.String() {
		return exception.Wrap(spanPreparatorTaskletName,
			fmt.Sprintf("latest decision of execution '%s' is %s", latest.JobExecutionID, latest.Decision),
			exception.ErrNoRetrainDecision, nil)
	}
	logger.Debugf("Span preparation follows the RETRAIN decision of execution '%s'.", latest.JobExecutionID)
	return nil
}
