package storage

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// MoveObject copies an object to its destination and deletes the source.
// A source that is already gone while the destination exists counts as moved, so an interrupted
// move can be repeated.
func MoveObject(ctx context.Context, conn StorageExecutor, srcBucket, srcObject, dstBucket, dstObject string) error {
	if err := conn.Copy(ctx, srcBucket, srcObject, dstBucket, dstObject); err != nil {
		exists, existsErr := conn.Exists(ctx, dstBucket, dstObject)
		if existsErr != nil || !exists {
			return fmt.Errorf("failed to move '%s/%s' to '%s/%s': %w", srcBucket, srcObject, dstBucket, dstObject, err)
		}
		logger.Debugf("Source '%s/%s' already moved to '%s/%s'.", srcBucket, srcObject, dstBucket, dstObject)
		return nil
	}
	if err := conn.DeleteObject(ctx, srcBucket, srcObject); err != nil {
		return fmt.Errorf("copied '%s/%s' but failed to delete the source: %w", srcBucket, srcObject, err)
	}
	return nil
}

// DeletePrefix deletes every object under prefix.
func DeletePrefix(ctx context.Context, conn StorageExecutor, bucket, prefix string) error {
	var names []string
	if err := conn.ListObjects(ctx, bucket, prefix, func(info ObjectInfo) error {
		names = append(names, info.Name)
		return nil
	}); err != nil {
		return fmt.Errorf("failed to list '%s/%s' for delete: %w", bucket, prefix, err)
	}
	var result *multierror.Error
	for _, name := range names {
		if err := conn.DeleteObject(ctx, bucket, name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
