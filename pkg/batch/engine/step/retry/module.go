package retry

import (
	"go.uber.org/fx"

	"github.com/tigerroll/retrainer/pkg/batch/core/config"
)

// NewRetryPolicy builds the job wide policy from batch.retry.
func NewRetryPolicy(cfg *config.Config) RetryPolicy {
	return NewDefaultRetryPolicyFactory().Create(cfg.Retrainer.Batch.Retry)
}

// Module provides the RetryPolicy.
var Module = fx.Options(
	fx.Provide(NewRetryPolicy),
)
