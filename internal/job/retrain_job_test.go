package job

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/internal/retrain/inference"
	"github.com/tigerroll/retrainer/internal/retrain/lock"
	"github.com/tigerroll/retrainer/internal/retrain/pipeline"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	jobRunner "github.com/tigerroll/retrainer/pkg/batch/core/job/runner"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/test"
)

type mockPredictions struct {
	mock.Mock
}

func (m *mockPredictions) Submit(ctx context.Context, spec inference.JobSpec) (inference.JobHandle, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(inference.JobHandle), args.Error(1)
}

func (m *mockPredictions) Wait(ctx context.Context, job inference.JobHandle) (inference.JobHandle, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(inference.JobHandle), args.Error(1)
}

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Submit(ctx context.Context, req domain.RunRequest) (domain.RunHandle, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.RunHandle), args.Error(1)
}

type fixture struct {
	store       *test.LocalStore
	cfg         *config.Config
	repo        *inmemory.InMemoryJobRepository
	predictions *mockPredictions
	pipeline    *mockPipeline
	launcher    *Launcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.NewConfig()
	rc := &cfg.Retrainer.Retrain
	rc.Manifest.SourceURI = "gs://src/images"
	rc.Inference.ModelDisplayName = "cifar10"
	rc.Inference.OutputURIPrefix = "gs://results/predictions"
	rc.Evaluator.ResultsURI = "gs://results/predictions"
	rc.Span.SourceURI = "gs://src/images"
	rc.Span.DestinationURI = "gs://dst/spans"
	rc.Span.Seed = 7
	rc.Trigger.PipelineSpecURI = "gs://specs/train.json"
	rc.Trigger.PipelineRoot = "gs://specs/root"
	cfg.Retrainer.Infrastructure.LockDir = t.TempDir()

	f := &fixture{
		store:       test.NewLocalStore(t),
		cfg:         cfg,
		repo:        inmemory.NewInMemoryJobRepository(),
		predictions: new(mockPredictions),
		pipeline:    new(mockPipeline),
	}
	f.store.PutString("specs", "train.json", `{"pipelineSpec":{"root":{"dag":{"tasks":{"trainer":{}}}}}}`)

	f.launcher = NewLauncher(Params{
		Config:      cfg,
		Resolver:    f.store.Resolver(),
		Repository:  f.repo,
		Recorder:    metrics.NewNoOpMetricRecorder(),
		Tracer:      metrics.NewNoOpTracer(),
		Predictions: func(ctx context.Context) (inference.Service, error) { return f.predictions, nil },
		Pipelines:   func(ctx context.Context) (pipeline.Service, error) { return f.pipeline, nil },
		JobLauncher: jobRunner.NewJobLauncher(f.repo),
	})
	return f
}

// withImages writes n cat and n dog images to the source prefix.
func (f *fixture) withImages(n int) {
	for i := 0; i < n; i++ {
		f.store.PutString("src", fmt.Sprintf("images/cat_%04d.jpg", i), "img")
		f.store.PutString("src", fmt.Sprintf("images/dog_%04d.jpg", i), "img")
	}
}

// withPredictions makes the prediction service succeed and leaves correct/wrong results behind.
func (f *fixture) withPredictions(correct, wrong int) {
	var sb strings.Builder
	for i := 0; i < correct; i++ {
		fmt.Fprintf(&sb, `{"instance":"gs://src/images/cat_%04d.jpg","prediction":{"label":"cat"}}`+"\n", i)
	}
	for i := 0; i < wrong; i++ {
		fmt.Fprintf(&sb, `{"instance":"gs://src/images/dog_%04d.jpg","prediction":{"label":"cat"}}`+"\n", i)
	}
	f.store.PutString("results", "predictions/run-1/prediction.results-00000-of-00001", sb.String())

	submitted := inference.JobHandle{Name: "jobs/1", State: "JOB_STATE_PENDING"}
	done := inference.JobHandle{Name: "jobs/1", State: inference.StateSucceeded, OutputDirectory: "gs://results/predictions/run-1"}
	f.predictions.On("Submit", mock.Anything, mock.Anything).Return(submitted, nil)
	f.predictions.On("Wait", mock.Anything, submitted).Return(done, nil)
}

func stepNames(je *model.JobExecution) []string {
	var names []string
	for _, se := range je.StepExecutions {
		names = append(names, se.StepName)
	}
	return names
}

func TestCycleKeepsModelAboveThreshold(t *testing.T) {
	f := newFixture(t)
	f.withImages(5)
	f.withPredictions(82, 18)

	je, err := f.launcher.Launch(context.Background(), StageRun)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, []string{FileListGenStep, BatchPredictionStep, PerformanceEvaluatorStep}, stepNames(je))

	decision, ok := domain.DecisionKey.Get(je.ExecutionContext)
	require.True(t, ok)
	assert.Equal(t, domain.DecisionKeep, decision)

	rec, err := f.repo.FindDecision(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, "KEEP", rec.Decision)
	assert.InDelta(t, 0.82, rec.Accuracy, 1e-9)

	assert.Empty(t, f.store.Names("dst", "spans/"))
	f.pipeline.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)

	report := NewReport(je)
	assert.Equal(t, "KEEP", report.Decision)
	require.NotNil(t, report.Accuracy)
	assert.InDelta(t, 0.82, *report.Accuracy, 1e-9)
	assert.Nil(t, report.Span)
	assert.Len(t, report.Steps, 3)
	assert.Contains(t, report.Render(), "82.00% of 100")
}

func TestCycleRetrainsBelowThreshold(t *testing.T) {
	f := newFixture(t)
	f.store.PutString("dst", "spans/span-0/train/data.tfrecord", "")
	f.store.PutString("dst", "spans/span-1/train/data.tfrecord", "")
	f.withImages(5)
	f.withPredictions(70, 30)
	f.pipeline.On("Submit", mock.Anything, mock.MatchedBy(func(req domain.RunRequest) bool {
		return strings.Contains(req.Parameters["input-config"], "span-[12]/train/*.tfrecord")
	})).Return(domain.RunHandle{Name: "pipelineJobs/run-1"}, nil)

	je, err := f.launcher.Launch(context.Background(), StageRun)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, []string{FileListGenStep, BatchPredictionStep, PerformanceEvaluatorStep, SpanPreparatorStep, PipelineTriggerStep}, stepNames(je))

	latest, ok := domain.LatestSpanKey.Get(je.ExecutionContext)
	require.True(t, ok)
	assert.Equal(t, 2, latest)
	assert.NotEmpty(t, f.store.Names("dst", "spans/span-2/train/"))

	run, ok := domain.PipelineRunKey.Get(je.ExecutionContext)
	require.True(t, ok)
	assert.Equal(t, "pipelineJobs/run-1", run)
	f.pipeline.AssertExpectations(t)

	report := NewReport(je)
	require.NotNil(t, report.Span)
	assert.Equal(t, 2, *report.Span)
	assert.Contains(t, report.Render(), "pipelineJobs/run-1")
}

func TestCycleFailsOnEmptyResults(t *testing.T) {
	f := newFixture(t)
	f.withImages(5)
	f.withPredictions(0, 0)

	je, err := f.launcher.Launch(context.Background(), StageRun)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrEmptyResultSet)
	require.NotNil(t, je)
	assert.Equal(t, model.BatchStatusFailed, je.Status)

	_, ok := domain.DecisionKey.Get(je.ExecutionContext)
	assert.False(t, ok)
	_, err = f.repo.FindDecision(context.Background(), je.ID)
	assert.ErrorIs(t, err, repository.ErrDecisionNotFound)
	f.pipeline.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestLaunchRejectsConcurrentCycle(t *testing.T) {
	f := newFixture(t)
	held, err := lock.Acquire(f.cfg.Retrainer.Infrastructure.LockDir, "gs://dst/spans")
	require.NoError(t, err)
	defer held.Release()

	je, err := f.launcher.Launch(context.Background(), StageEvaluate)
	assert.Nil(t, je)
	assert.ErrorIs(t, err, exception.ErrLockHeld)
	f.predictions.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestEvaluateStageRunIDs(t *testing.T) {
	f := newFixture(t)
	f.store.PutString("results", "predictions/run-1/prediction.results-00000-of-00001",
		`{"instance":"gs://src/images/cat_0001.jpg","prediction":{"label":"cat"}}`+"\n")

	first, err := f.launcher.Launch(context.Background(), StageEvaluate)
	require.NoError(t, err)
	second, err := f.launcher.Launch(context.Background(), StageEvaluate)
	require.NoError(t, err)

	assert.Equal(t, "retrainJob.evaluate", second.JobName)
	id, _ := first.Parameters.GetFloat64(RunIDParam)
	assert.Equal(t, float64(1), id)
	id, _ = second.Parameters.GetFloat64(RunIDParam)
	assert.Equal(t, float64(2), id)
	stage, _ := second.Parameters.GetString(StageParam)
	assert.Equal(t, "evaluate", stage)
}

func TestPrepareSpanStageNeedsRetrainDecision(t *testing.T) {
	f := newFixture(t)
	f.withImages(5)

	je, err := f.launcher.Launch(context.Background(), StagePrepareSpan)
	assert.ErrorIs(t, err, exception.ErrNoRetrainDecision)
	require.NotNil(t, je)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Empty(t, f.store.Names("dst", "spans/"))

	f.withPredictions(70, 30)
	evaluated, err := f.launcher.Launch(context.Background(), StageEvaluate)
	require.NoError(t, err)
	decision, _ := domain.DecisionKey.Get(evaluated.ExecutionContext)
	assert.Equal(t, domain.DecisionRetrain, decision)

	je, err = f.launcher.Launch(context.Background(), StagePrepareSpan)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	latest, ok := domain.LatestSpanKey.Get(je.ExecutionContext)
	require.True(t, ok)
	assert.Equal(t, 0, latest)
	assert.NotEmpty(t, f.store.Names("dst", "spans/span-0/train/"))
}

func TestTriggerStageDiscoversLatestSpan(t *testing.T) {
	f := newFixture(t)
	for _, n := range []int{3, 4} {
		f.store.PutString("dst", fmt.Sprintf("spans/span-%d/train/data.tfrecord", n), "")
		f.store.PutString("dst", fmt.Sprintf("spans/span-%d/MANIFEST.json", n), "{}")
	}
	f.pipeline.On("Submit", mock.Anything, mock.MatchedBy(func(req domain.RunRequest) bool {
		return strings.Contains(req.Parameters["input-config"], "span-[34]/train/*.tfrecord")
	})).Return(domain.RunHandle{Name: "pipelineJobs/run-2"}, nil)

	je, err := f.launcher.Launch(context.Background(), StageTrigger)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	f.pipeline.AssertExpectations(t)
}

func TestTriggerStageSkipsHalfPromotedSpan(t *testing.T) {
	f := newFixture(t)
	f.store.PutString("dst", "spans/span-3/train/data.tfrecord", "")
	f.store.PutString("dst", "spans/span-3/MANIFEST.json", "{}")
	f.store.PutString("dst", "spans/span-4/train/data.tfrecord", "")
	f.store.PutString("dst", "spans/_staging/span-4/validation/data.tfrecord", "")
	f.store.PutString("dst", "spans/_staging/span-4/MANIFEST.json", "{}")
	f.pipeline.On("Submit", mock.Anything, mock.MatchedBy(func(req domain.RunRequest) bool {
		return strings.Contains(req.Parameters["input-config"], "span-[23]/train/*.tfrecord")
	})).Return(domain.RunHandle{Name: "pipelineJobs/run-3"}, nil)

	je, err := f.launcher.Launch(context.Background(), StageTrigger)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	f.pipeline.AssertExpectations(t)
}

func TestTriggerStageFollowsSpanLedger(t *testing.T) {
	f := newFixture(t)
	f.withImages(5)
	f.withPredictions(70, 30)
	f.pipeline.On("Submit", mock.Anything, mock.Anything).Return(domain.RunHandle{Name: "pipelineJobs/run-1"}, nil)

	_, err := f.launcher.Launch(context.Background(), StageRun)
	require.NoError(t, err)
	// A newer directory without a manifest is not a published span.
	f.store.PutString("dst", "spans/span-1/train/data.tfrecord", "")

	je, err := f.launcher.Launch(context.Background(), StageTrigger)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	last := f.pipeline.Calls[len(f.pipeline.Calls)-1].Arguments.Get(1).(domain.RunRequest)
	assert.Contains(t, last.Parameters["input-config"], "span-0/train/*.tfrecord")
}

func TestMigrateNeedsSQLRepository(t *testing.T) {
	f := newFixture(t)
	_, err := f.launcher.Migrate(context.Background(), "up")
	assert.Error(t, err)
}

func TestParseStage(t *testing.T) {
	for _, s := range Stages() {
		got, err := ParseStage(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStage("train")
	assert.Error(t, err)
}
