package tasklet

import (
	"context"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/internal/retrain/manifest"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	port "github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

const manifestTaskletName = "manifest_tasklet"

// ManifestTasklet writes the instance list of the next prediction run.
type ManifestTasklet struct {
	contextHolder
	resolver storage.StorageConnectionResolver
	cfg      config.RetrainConfig
}

var _ port.Tasklet = (*ManifestTasklet)(nil)

// NewManifestTasklet creates a ManifestTasklet.
func NewManifestTasklet(resolver storage.StorageConnectionResolver, cfg config.RetrainConfig) *ManifestTasklet {
	return &ManifestTasklet{contextHolder: newContextHolder(), resolver: resolver, cfg: cfg}
}

// Execute builds the manifest and publishes its URI under domain.ManifestURIKey.
func (t *ManifestTasklet) Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	conn, err := resolveStorage(ctx, t.resolver, t.cfg.StorageRef, manifestTaskletName)
	if err != nil {
		return model.ExitStatusFailed, err
	}
	uri, _, err := manifest.NewBuilder(conn, t.cfg.Manifest).Build(ctx)
	if err != nil {
		return model.ExitStatusFailed, err
	}
	domain.ManifestURIKey.Put(stepExecution.ExecutionContext, uri)
	return model.ExitStatusCompleted, nil
}
