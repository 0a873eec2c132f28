package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Submit(ctx context.Context, spec JobSpec) (JobHandle, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(JobHandle), args.Error(1)
}

func (m *mockService) Wait(ctx context.Context, job JobHandle) (JobHandle, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(JobHandle), args.Error(1)
}

func inferenceConfig() config.InferenceConfig {
	cfg := config.NewConfig().Retrainer.Retrain.Inference
	cfg.ModelDisplayName = "cifar10"
	cfg.OutputURIPrefix = "gs://results/predictions"
	return cfg
}

func TestLauncherRun(t *testing.T) {
	svc := new(mockService)
	submitted := JobHandle{Name: "projects/p/locations/r/batchPredictionJobs/1", DisplayName: "retrainer-batch-prediction", State: "JOB_STATE_PENDING"}
	finished := submitted
	finished.State = StateSucceeded
	finished.OutputDirectory = "gs://results/predictions/prediction-cifar10-2024"

	svc.On("Submit", mock.Anything, mock.MatchedBy(func(s JobSpec) bool {
		return s.ManifestURI == "gs://src/images/test-images.txt" && s.ModelDisplayName == "cifar10" && s.InstancesFormat == "file-list"
	})).Return(submitted, nil)
	svc.On("Wait", mock.Anything, submitted).Return(finished, nil)

	got, err := NewLauncher(svc, inferenceConfig()).Run(context.Background(), "gs://src/images/test-images.txt")
	require.NoError(t, err)
	assert.Equal(t, finished, got)
	svc.AssertExpectations(t)
}

func TestLauncherFailedJob(t *testing.T) {
	svc := new(mockService)
	job := JobHandle{Name: "jobs/1"}
	svc.On("Submit", mock.Anything, mock.Anything).Return(job, nil)
	svc.On("Wait", mock.Anything, job).Return(JobHandle{Name: "jobs/1", State: StateFailed, Error: "quota"}, nil)

	_, err := NewLauncher(svc, inferenceConfig()).Run(context.Background(), "gs://m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOB_STATE_FAILED")
}

func TestLauncherWaitTimeout(t *testing.T) {
	svc := new(mockService)
	job := JobHandle{Name: "jobs/1"}
	svc.On("Submit", mock.Anything, mock.Anything).Return(job, nil)
	svc.On("Wait", mock.Anything, job).Return(job, context.DeadlineExceeded)

	_, err := NewLauncher(svc, inferenceConfig()).Run(context.Background(), "gs://m")
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrTimeout)
	assert.False(t, exception.IsTemporary(err))
}

func TestLauncherRequiresModel(t *testing.T) {
	cfg := inferenceConfig()
	cfg.ModelDisplayName = ""
	_, err := NewLauncher(new(mockService), cfg).Run(context.Background(), "gs://m")
	assert.Error(t, err)
}

func TestLauncherSubmitError(t *testing.T) {
	svc := new(mockService)
	svc.On("Submit", mock.Anything, mock.Anything).Return(JobHandle{}, errors.New("model not found"))
	_, err := NewLauncher(svc, inferenceConfig()).Run(context.Background(), "gs://m")
	assert.EqualError(t, err, "model not found")
}

func TestJobHandleStates(t *testing.T) {
	assert.False(t, JobHandle{State: "JOB_STATE_RUNNING"}.Terminal())
	assert.True(t, JobHandle{State: StatePartiallySucceeded}.Succeeded())
	assert.True(t, JobHandle{State: StateExpired}.Terminal())
	assert.False(t, JobHandle{State: StateExpired}.Succeeded())
}
