package storage

import (
	"context"
	"io"
	"time"

	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/engine/step/retry"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

// retryingConnection bounds every operation of the wrapped connection with a timeout and retries
// the ones that fail with a retryable error.
type retryingConnection struct {
	StorageConnection
	policy   retry.RetryPolicy
	recorder metrics.MetricRecorder
	timeout  time.Duration
}

// WithRetry wraps conn. A timeout of zero disables the per operation deadline.
// Deadline overruns surface as exception.ErrTimeout and are never retried.
func WithRetry(conn StorageConnection, policy retry.RetryPolicy, recorder metrics.MetricRecorder, timeout time.Duration) StorageConnection {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &retryingConnection{StorageConnection: conn, policy: policy, recorder: recorder, timeout: timeout}
}

func (c *retryingConnection) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *retryingConnection) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.DoErr(ctx, c.policy, c.recorder, "storage."+op, func(ctx context.Context) error {
		opCtx, cancel := c.bound(ctx)
		defer cancel()
		err := fn(opCtx)
		if err != nil && opCtx.Err() == context.DeadlineExceeded {
			return exception.NewTimeoutError("storage", op+" exceeded "+c.timeout.String(), err)
		}
		return err
	})
}

// Upload buffers nothing itself, so a retry is only possible for seekable data.
func (c *retryingConnection) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	seeker, seekable := data.(io.Seeker)
	first := true
	return c.do(ctx, "upload", func(ctx context.Context) error {
		if !first {
			if !seekable {
				return exception.NewBatchErrorf("storage", "cannot retry upload of '%s/%s' from a non seekable reader", bucket, objectName)
			}
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return err
			}
		}
		first = false
		return c.StorageConnection.Upload(ctx, bucket, objectName, data, contentType)
	})
}

// Download applies the timeout to opening the object and to reading it; the deadline is
// released when the reader is closed.
func (c *retryingConnection) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	return retry.Do(ctx, c.policy, c.recorder, "storage.download", func(ctx context.Context) (io.ReadCloser, error) {
		opCtx, cancel := c.bound(ctx)
		rc, err := c.StorageConnection.Download(opCtx, bucket, objectName)
		if err != nil {
			cancel()
			if opCtx.Err() == context.DeadlineExceeded {
				return nil, exception.NewTimeoutError("storage", "download exceeded "+c.timeout.String(), err)
			}
			return nil, err
		}
		return &cancelOnClose{ReadCloser: rc, cancel: cancel}, nil
	})
}

func (c *retryingConnection) ListObjects(ctx context.Context, bucket, prefix string, fn func(ObjectInfo) error) error {
	return c.do(ctx, "list", func(ctx context.Context) error {
		// A retried listing must not report the same objects twice.
		seen := make(map[string]struct{})
		return c.StorageConnection.ListObjects(ctx, bucket, prefix, func(info ObjectInfo) error {
			if _, dup := seen[info.Name]; dup {
				return nil
			}
			seen[info.Name] = struct{}{}
			return fn(info)
		})
	})
}

func (c *retryingConnection) Exists(ctx context.Context, bucket, objectName string) (bool, error) {
	var exists bool
	err := c.do(ctx, "exists", func(ctx context.Context) error {
		var err error
		exists, err = c.StorageConnection.Exists(ctx, bucket, objectName)
		return err
	})
	return exists, err
}

func (c *retryingConnection) Copy(ctx context.Context, srcBucket, srcObject, dstBucket, dstObject string) error {
	return c.do(ctx, "copy", func(ctx context.Context) error {
		return c.StorageConnection.Copy(ctx, srcBucket, srcObject, dstBucket, dstObject)
	})
}

func (c *retryingConnection) DeleteObject(ctx context.Context, bucket, objectName string) error {
	return c.do(ctx, "delete", func(ctx context.Context) error {
		return c.StorageConnection.DeleteObject(ctx, bucket, objectName)
	})
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnClose) Close() error {
	defer r.cancel()
	return r.ReadCloser.Close()
}
