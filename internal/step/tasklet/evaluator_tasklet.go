package tasklet

import (
	"context"
	"time"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/internal/retrain/evaluate"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	port "github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const evaluatorTaskletName = "evaluator_tasklet"

// EvaluatorTasklet scores the latest prediction run and takes the retrain decision.
type EvaluatorTasklet struct {
	contextHolder
	resolver storage.StorageConnectionResolver
	ledger   repository.DecisionLedger
	recorder metrics.MetricRecorder
	cfg      config.RetrainConfig
}

var _ port.Tasklet = (*EvaluatorTasklet)(nil)

// NewEvaluatorTasklet creates an EvaluatorTasklet. A nil recorder records nothing.
func NewEvaluatorTasklet(
	resolver storage.StorageConnectionResolver,
	ledger repository.DecisionLedger,
	recorder metrics.MetricRecorder,
	cfg config.RetrainConfig,
) *EvaluatorTasklet {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &EvaluatorTasklet{
		contextHolder: newContextHolder(),
		resolver:      resolver,
		ledger:        ledger,
		recorder:      recorder,
		cfg:           cfg,
	}
}

// Execute publishes domain.DecisionKey and domain.EvaluationKey and records the decision in the
// ledger. Nothing is published when the evaluation fails.
func (t *EvaluatorTasklet) Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	conn, err := resolveStorage(ctx, t.resolver, t.cfg.StorageRef, evaluatorTaskletName)
	if err != nil {
		return model.ExitStatusFailed, err
	}
	evaluator := evaluate.NewEvaluator(conn, t.cfg.Evaluator)
	rep, err := evaluator.Evaluate(ctx)
	if err != nil {
		return model.ExitStatusFailed, err
	}
	result := rep.Result

	err = t.ledger.RecordDecision(ctx, &model.DecisionRecord{
		JobExecutionID: stepExecution.JobExecutionID,
		Decision:       result.Decision.String(),
		Accuracy:       result.Accuracy,
		Threshold:      result.Threshold,
		Total:          result.Total,
		Correct:        result.Correct,
		ResultsURI:     result.ResultsURI,
		RecordedAt:     time.Now(),
	})
	if err != nil {
		return model.ExitStatusFailed, exception.NewBatchError(evaluatorTaskletName, "failed to record the decision", err, false)
	}

	domain.EvaluationKey.Put(stepExecution.ExecutionContext, result)
	domain.DecisionKey.Put(stepExecution.ExecutionContext, result.Decision)
	t.recorder.RecordEvaluation(ctx, metrics.EvaluationSample{
		Total:     result.Total,
		Correct:   result.Correct,
		Accuracy:  result.Accuracy,
		Threshold: result.Threshold,
		Decision:  result.Decision.String(),
	})

	if t.cfg.Evaluator.AuditEnabled {
		// Audit failures do not fail the evaluation.
		if err := evaluator.WriteAudit(ctx, rep); err != nil {
			logger.Warnf("EvaluatorTasklet: Failed to write the evaluation audit: %v", err)
		}
	}
	return model.ExitStatusCompleted, nil
}
