package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// Do runs op until it succeeds, returns an error the policy does not retry, or runs out of attempts.
// The last error is returned unchanged. Each retry is logged and recorded under name.
func Do[T any](ctx context.Context, policy RetryPolicy, recorder metrics.MetricRecorder, name string, op func(ctx context.Context) (T, error)) (T, error) {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err != nil && !policy.ShouldRetry(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, next time.Duration) {
		logger.Warnf("%s failed (attempt %d/%d), retrying in %s: %v", name, attempt, policy.GetMaxAttempts(), next, err)
		recorder.RecordRetry(ctx, name, reason(err))
	}
	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy.NewBackOff()),
		backoff.WithMaxTries(uint(policy.GetMaxAttempts())),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	// The attempt limit is checked before the permanent marker is stripped.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}

// DoErr is Do for operations without a result.
func DoErr(ctx context.Context, policy RetryPolicy, recorder metrics.MetricRecorder, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, policy, recorder, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func reason(err error) string {
	if errors.Is(err, exception.ErrTransientIO) {
		return "transient_io"
	}
	return "retryable"
}
