// Package retry decides which failures are retried and runs operations under an exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

// RetryPolicy defines retry logic.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// NewBackOff returns a fresh backoff schedule for one retried operation.
	NewBackOff() backoff.BackOff
	// GetMaxAttempts returns the maximum number of attempts, the first one included.
	GetMaxAttempts() int
}

// DefaultRetryPolicyFactory creates RetryPolicy instances from configuration.
type DefaultRetryPolicyFactory struct{}

// NewDefaultRetryPolicyFactory creates a new DefaultRetryPolicyFactory.
func NewDefaultRetryPolicyFactory() *DefaultRetryPolicyFactory {
	return &DefaultRetryPolicyFactory{}
}

// Create creates a RetryPolicy from the batch.retry section.
func (f *DefaultRetryPolicyFactory) Create(cfg config.RetryConfig) RetryPolicy {
	p := &defaultRetryPolicy{
		maxAttempts:         cfg.MaxAttempts,
		initialInterval:     time.Duration(cfg.InitialInterval) * time.Millisecond,
		maxInterval:         time.Duration(cfg.MaxInterval) * time.Millisecond,
		factor:              cfg.Factor,
		retryableExceptions: cfg.RetryableExceptions,
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	if p.factor < 1 {
		p.factor = backoff.DefaultMultiplier
	}
	return p
}

// defaultRetryPolicy retries BatchErrors flagged retryable and errors matching the configured type names.
type defaultRetryPolicy struct {
	maxAttempts         int
	initialInterval     time.Duration
	maxInterval         time.Duration
	factor              float64
	retryableExceptions []string
}

func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry never retries timeouts or cancellation, whatever the configuration says.
func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, exception.ErrTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if exception.IsTemporary(err) {
		return true
	}
	for _, typeName := range p.retryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

func (p *defaultRetryPolicy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.initialInterval > 0 {
		b.InitialInterval = p.initialInterval
	}
	if p.maxInterval > 0 {
		b.MaxInterval = p.maxInterval
	}
	b.Multiplier = p.factor
	return b
}

var _ RetryPolicy = (*defaultRetryPolicy)(nil)
