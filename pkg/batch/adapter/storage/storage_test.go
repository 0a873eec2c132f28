package storage_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/retrainer/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/engine/step/retry"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

func TestParseURI(t *testing.T) {
	loc, err := storage.ParseURI("gs://bucket/a/b/")
	require.NoError(t, err)
	assert.Equal(t, storage.Location{Scheme: "gs", Bucket: "bucket", Path: "a/b"}, loc)
	assert.Equal(t, "gs://bucket/a/b", loc.String())
	assert.Equal(t, "a/b/", loc.Prefix())
	assert.Equal(t, "gs://bucket/a/b/c.txt", loc.Join("c.txt").String())
	assert.Equal(t, "gs://bucket/a", loc.Dir().String())
	assert.Equal(t, "b", loc.Base())

	root, err := storage.ParseURI("gs://bucket")
	require.NoError(t, err)
	assert.Equal(t, "", root.Prefix())
	assert.Equal(t, "gs://bucket", root.Dir().String())

	_, err = storage.ParseURI("bucket/a")
	assert.Error(t, err)
	_, err = storage.ParseURI("gs:///a")
	assert.Error(t, err)
}

func newLocal(t *testing.T) storage.StorageConnection {
	t.Helper()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType, BaseDir: t.TempDir()}, "test")
	require.NoError(t, err)
	return conn
}

func put(t *testing.T, conn storage.StorageConnection, bucket, name string) {
	t.Helper()
	require.NoError(t, conn.Upload(context.Background(), bucket, name, bytes.NewBufferString(name), ""))
}

func list(t *testing.T, conn storage.StorageConnection, bucket, prefix string) []string {
	t.Helper()
	var names []string
	require.NoError(t, conn.ListObjects(context.Background(), bucket, prefix, func(info storage.ObjectInfo) error {
		names = append(names, info.Name)
		return nil
	}))
	return names
}

func TestMoveObjectIsRepeatable(t *testing.T) {
	ctx := context.Background()
	conn := newLocal(t)
	put(t, conn, "b", "images/cat_1.jpg")

	require.NoError(t, storage.MoveObject(ctx, conn, "b", "images/cat_1.jpg", "b", "images_old/cat_1.jpg"))
	require.NoError(t, storage.MoveObject(ctx, conn, "b", "images/cat_1.jpg", "b", "images_old/cat_1.jpg"))

	err := storage.MoveObject(ctx, conn, "b", "images/missing.jpg", "b", "images_old/missing.jpg")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestDeletePrefix(t *testing.T) {
	conn := newLocal(t)
	put(t, conn, "b", "_staging/span-0/MANIFEST.json")
	put(t, conn, "b", "_staging/span-0/train/x.tfrecord")

	require.NoError(t, storage.DeletePrefix(context.Background(), conn, "b", "_staging/span-0/"))
	assert.Empty(t, list(t, conn, "b", "_staging/"))
}

// flakyConnection fails the first failures calls of Exists and Download.
type flakyConnection struct {
	storage.StorageConnection
	failures int
	calls    int
	block    bool
}

func (f *flakyConnection) Exists(ctx context.Context, bucket, objectName string) (bool, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if f.calls <= f.failures {
		return false, exception.NewTransientError("storage", "exists", errors.New("503 backend error"))
	}
	return f.StorageConnection.Exists(ctx, bucket, objectName)
}

func (f *flakyConnection) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, exception.NewTransientError("storage", "download", errors.New("connection reset"))
	}
	return f.StorageConnection.Download(ctx, bucket, objectName)
}

func fastPolicy() retry.RetryPolicy {
	return retry.NewDefaultRetryPolicyFactory().Create(config.RetryConfig{MaxAttempts: 3, InitialInterval: 1, MaxInterval: 2, Factor: 2})
}

func TestWithRetryRetriesTransientErrors(t *testing.T) {
	base := newLocal(t)
	put(t, base, "b", "x.txt")
	flaky := &flakyConnection{StorageConnection: base, failures: 2}
	conn := storage.WithRetry(flaky, fastPolicy(), nil, time.Second)

	ok, err := conn.Exists(context.Background(), "b", "x.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, flaky.calls)

	flaky.calls = 0
	rc, err := conn.Download(context.Background(), "b", "x.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "x.txt", string(body))
}

func TestWithRetryGivesUp(t *testing.T) {
	flaky := &flakyConnection{StorageConnection: newLocal(t), failures: 10}
	conn := storage.WithRetry(flaky, fastPolicy(), nil, time.Second)

	_, err := conn.Exists(context.Background(), "b", "x.txt")
	assert.ErrorIs(t, err, exception.ErrTransientIO)
	assert.Equal(t, 3, flaky.calls)
}

func TestWithRetryTimeoutIsFatal(t *testing.T) {
	flaky := &flakyConnection{StorageConnection: newLocal(t), block: true}
	conn := storage.WithRetry(flaky, fastPolicy(), nil, 10*time.Millisecond)

	_, err := conn.Exists(context.Background(), "b", "x.txt")
	assert.ErrorIs(t, err, exception.ErrTimeout)
	assert.Equal(t, 1, flaky.calls)
}

type failingProvider struct {
	storage.StorageProvider
	typ    string
	closed bool
}

func (p *failingProvider) CloseAll() error {
	p.closed = true
	return fmt.Errorf("close %s: %w", p.typ, errors.New("broken pipe"))
}

func TestResolverCloseAllReportsEveryProvider(t *testing.T) {
	gcs := &failingProvider{typ: "gcs"}
	disk := &failingProvider{typ: "local"}
	r := storage.NewDefaultConnectionResolver(map[string]storage.StorageProvider{"gcs": gcs, "local": disk}, &config.Config{}, nil, nil)

	err := r.CloseAll()
	require.Error(t, err)
	assert.True(t, gcs.closed)
	assert.True(t, disk.closed)
	assert.Contains(t, err.Error(), "close gcs")
	assert.Contains(t, err.Error(), "close local")
}
