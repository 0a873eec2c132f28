package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/engine/step/retry"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/test"
)

func TestEncodeProducesParquetFile(t *testing.T) {
	rows := []OutcomeRow{
		{Instance: "gs://b/img/cat_1.jpg", GroundTruth: "cat", Predicted: "cat", Correct: true},
		{Instance: "gs://b/img/dog_1.jpg", GroundTruth: "dog", Predicted: "cat", Correct: false},
	}
	buf, err := Encode(rows, "none")
	require.NoError(t, err)

	b := buf.Bytes()
	require.Greater(t, len(b), 8)
	assert.True(t, bytes.HasPrefix(b, []byte("PAR1")))
	assert.True(t, bytes.HasSuffix(b, []byte("PAR1")))
}

func TestWriteOutcomesUploads(t *testing.T) {
	store := test.NewLocalStore(t)
	dst := storage.Location{Scheme: "gs", Bucket: "results", Path: "evaluation/run-1.parquet"}

	err := WriteOutcomes(context.Background(), store, dst, []OutcomeRow{{Instance: "x_1.jpg", GroundTruth: "x", Predicted: "x", Correct: true}})
	require.NoError(t, err)
	assert.Equal(t, []string{"evaluation/run-1.parquet"}, store.Names("results", "evaluation/"))
}

// resetUpload reads the whole body of the first upload and then fails it as a transient error.
type resetUpload struct {
	storage.StorageConnection
	attempts int
}

func (r *resetUpload) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	r.attempts++
	if r.attempts == 1 {
		_, _ = io.Copy(io.Discard, data)
		return exception.NewTransientError("storage", "upload", errors.New("connection reset"))
	}
	return r.StorageConnection.Upload(ctx, bucket, objectName, data, contentType)
}

func TestWriteOutcomesRetriesTransientUpload(t *testing.T) {
	store := test.NewLocalStore(t)
	flaky := &resetUpload{StorageConnection: store}
	policy := retry.NewDefaultRetryPolicyFactory().Create(config.RetryConfig{MaxAttempts: 3, InitialInterval: 1, MaxInterval: 2, Factor: 2})
	conn := storage.WithRetry(flaky, policy, nil, time.Second)
	dst := storage.Location{Scheme: "gs", Bucket: "results", Path: "evaluation/run-1.parquet"}

	err := WriteOutcomes(context.Background(), conn, dst, []OutcomeRow{{Instance: "x_1.jpg", GroundTruth: "x", Predicted: "x", Correct: true}})
	require.NoError(t, err)
	assert.Equal(t, 2, flaky.attempts)

	body := store.Get("results", "evaluation/run-1.parquet")
	assert.True(t, bytes.HasPrefix(body, []byte("PAR1")))
	assert.True(t, bytes.HasSuffix(body, []byte("PAR1")))
}
