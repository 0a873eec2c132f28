// Package inference launches batch prediction jobs over an image manifest and waits for them.
package inference

import (
	"context"
)

// Terminal job states reported by the prediction service.
const (
	StateSucceeded          = "JOB_STATE_SUCCEEDED"
	StatePartiallySucceeded = "JOB_STATE_PARTIALLY_SUCCEEDED"
	StateFailed             = "JOB_STATE_FAILED"
	StateCancelled          = "JOB_STATE_CANCELLED"
	StateExpired            = "JOB_STATE_EXPIRED"
)

// JobSpec describes a batch prediction job.
type JobSpec struct {
	ModelDisplayName     string
	DisplayName          string
	ManifestURI          string
	OutputURIPrefix      string
	InstancesFormat      string
	PredictionsFormat    string
	MachineType          string
	AcceleratorType      string
	AcceleratorCount     int
	StartingReplicaCount int
	MaxReplicaCount      int
}

// JobHandle is the last known state of a submitted job.
type JobHandle struct {
	Name        string
	DisplayName string
	ModelName   string
	State       string
	// OutputDirectory is set by the service once the job writes results.
	OutputDirectory string
	Error           string
}

// Terminal reports whether the job stopped.
func (h JobHandle) Terminal() bool {
	switch h.State {
	case StateSucceeded, StatePartiallySucceeded, StateFailed, StateCancelled, StateExpired:
		return true
	}
	return false
}

// Succeeded reports whether the job produced predictions.
func (h JobHandle) Succeeded() bool {
	return h.State == StateSucceeded || h.State == StatePartiallySucceeded
}

// Service is the batch prediction backend.
type Service interface {
	// Submit resolves the model and creates the job.
	Submit(ctx context.Context, spec JobSpec) (JobHandle, error)
	// Wait blocks until the job reaches a terminal state or ctx ends.
	Wait(ctx context.Context, job JobHandle) (JobHandle, error)
}

// ServiceFactory creates the Service on demand, so stages that never predict need no
// credentials. It is itself a Service.
type ServiceFactory func(ctx context.Context) (Service, error)

// Submit implements Service.
func (f ServiceFactory) Submit(ctx context.Context, spec JobSpec) (JobHandle, error) {
	svc, err := f(ctx)
	if err != nil {
		return JobHandle{}, err
	}
	return svc.Submit(ctx, spec)
}

// Wait implements Service.
func (f ServiceFactory) Wait(ctx context.Context, job JobHandle) (JobHandle, error) {
	svc, err := f(ctx)
	if err != nil {
		return job, err
	}
	return svc.Wait(ctx, job)
}
