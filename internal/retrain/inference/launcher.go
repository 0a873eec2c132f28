package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const module = "inference"

// Launcher submits one prediction job per manifest and blocks until it finishes.
type Launcher struct {
	svc Service
	cfg config.InferenceConfig
}

// NewLauncher creates a Launcher.
func NewLauncher(svc Service, cfg config.InferenceConfig) *Launcher {
	return &Launcher{svc: svc, cfg: cfg}
}

// Spec builds the job specification for manifestURI from the configuration.
func (l *Launcher) Spec(manifestURI string) JobSpec {
	return JobSpec{
		ModelDisplayName:     l.cfg.ModelDisplayName,
		DisplayName:          l.cfg.JobDisplayName,
		ManifestURI:          manifestURI,
		OutputURIPrefix:      l.cfg.OutputURIPrefix,
		InstancesFormat:      l.cfg.InstancesFormat,
		PredictionsFormat:    l.cfg.PredictionsFormat,
		MachineType:          l.cfg.MachineType,
		AcceleratorType:      l.cfg.AcceleratorType,
		AcceleratorCount:     l.cfg.AcceleratorCount,
		StartingReplicaCount: l.cfg.StartingReplicaCount,
		MaxReplicaCount:      l.cfg.MaxReplicaCount,
	}
}

// Run submits the job and waits for a terminal state within the configured wait timeout.
// A job that ends in any state but success is an error.
func (l *Launcher) Run(ctx context.Context, manifestURI string) (JobHandle, error) {
	if l.cfg.ModelDisplayName == "" {
		return JobHandle{}, exception.NewBatchErrorf(module, "model display name is not configured")
	}
	if l.cfg.OutputURIPrefix == "" {
		return JobHandle{}, exception.NewBatchErrorf(module, "prediction output URI prefix is not configured")
	}

	job, err := l.svc.Submit(ctx, l.Spec(manifestURI))
	if err != nil {
		return JobHandle{}, exception.FromContext(module, "failed to submit batch prediction job", err)
	}
	logger.Infof("Submitted batch prediction job: display_name=%s, resource_name=%s, state=%s.", job.DisplayName, job.Name, job.State)

	waitCtx := ctx
	if l.cfg.WaitTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(l.cfg.WaitTimeoutSeconds)*time.Second)
		defer cancel()
	}
	done, err := l.svc.Wait(waitCtx, job)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return job, exception.NewTimeoutError(module, fmt.Sprintf("batch prediction job '%s' did not finish within %ds", job.Name, l.cfg.WaitTimeoutSeconds), err)
		}
		return job, exception.FromContext(module, fmt.Sprintf("failed to wait for batch prediction job '%s'", job.Name), err)
	}
	logger.Infof("Batch prediction job finished: display_name=%s, resource_name=%s, state=%s.", done.DisplayName, done.Name, done.State)

	if !done.Succeeded() {
		return done, exception.NewBatchErrorf(module, "batch prediction job '%s' ended in state %s: %s", done.Name, done.State, done.Error)
	}
	return done, nil
}
