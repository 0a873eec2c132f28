package tasklet

import (
	"context"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/internal/retrain/inference"
	port "github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

const batchPredictionTaskletName = "batch_prediction_tasklet"

// BatchPredictionTasklet runs the deployed model over the manifest of the previous step.
type BatchPredictionTasklet struct {
	contextHolder
	services inference.ServiceFactory
	cfg      config.InferenceConfig
}

var _ port.Tasklet = (*BatchPredictionTasklet)(nil)

// NewBatchPredictionTasklet creates a BatchPredictionTasklet.
func NewBatchPredictionTasklet(services inference.ServiceFactory, cfg config.InferenceConfig) *BatchPredictionTasklet {
	return &BatchPredictionTasklet{contextHolder: newContextHolder(), services: services, cfg: cfg}
}

// Execute reads domain.ManifestURIKey from the job context and publishes the output location
// under domain.PredictionOutputURIKey.
func (t *BatchPredictionTasklet) Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	manifestURI, ok := domain.ManifestURIKey.Get(jobContext(stepExecution))
	if !ok || manifestURI == "" {
		return model.ExitStatusFailed, exception.NewBatchErrorf(batchPredictionTaskletName, "no manifest URI in the job context")
	}
	job, err := inference.NewLauncher(t.services, t.cfg).Run(ctx, manifestURI)
	if err != nil {
		return model.ExitStatusFailed, err
	}
	out := job.OutputDirectory
	if out == "" {
		out = t.cfg.OutputURIPrefix
	}
	domain.PredictionOutputURIKey.Put(stepExecution.ExecutionContext, out)
	return model.ExitStatusCompleted, nil
}
