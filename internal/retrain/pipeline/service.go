// Package pipeline defines the contract of the service that runs compiled training pipelines.
package pipeline

import (
	"context"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
)

// Service submits pipeline runs. Submissions are not idempotent and must not be retried.
type Service interface {
	Submit(ctx context.Context, req domain.RunRequest) (domain.RunHandle, error)
}

// ServiceFactory creates the Service on demand. It is itself a Service that creates the
// underlying one at submission time.
type ServiceFactory func(ctx context.Context) (Service, error)

// Submit implements Service.
func (f ServiceFactory) Submit(ctx context.Context, req domain.RunRequest) (domain.RunHandle, error) {
	svc, err := f(ctx)
	if err != nil {
		return domain.RunHandle{}, err
	}
	return svc.Submit(ctx, req)
}
