package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
)

func finishedExecutions() (*model.JobExecution, *model.StepExecution) {
	je := model.NewJobExecution("retrainJob", model.NewJobParameters())
	je.MarkAsStarted()
	se := model.NewStepExecution(model.NewID(), je, "performanceEvaluator")
	se.MarkAsStarted()
	se.MarkAsCompleted()
	je.MarkAsCompleted()
	return je, se
}

func TestPrometheusRecorderRecordsRetrainMetrics(t *testing.T) {
	r := NewPrometheusRecorder()
	ctx := context.Background()

	r.RecordEvaluation(ctx, metrics.EvaluationSample{Total: 100, Correct: 70, Accuracy: 0.7, Threshold: 0.8, Decision: "RETRAIN"})
	r.RecordSpanPublished(ctx, 2, 8, 2)
	r.RecordRetry(ctx, "storage.list", "TransientIO")
	r.RecordRetry(ctx, "storage.list", "TransientIO")

	assert.Equal(t, 0.7, testutil.ToFloat64(r.evaluationAccuracy))
	assert.Equal(t, 0.8, testutil.ToFloat64(r.evaluationThreshold))
	assert.Equal(t, 30.0, testutil.ToFloat64(r.evaluationRecords.WithLabelValues("incorrect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisionCounter.WithLabelValues("RETRAIN")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.latestSpan))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.spanSamples.WithLabelValues("validation")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retryCounter.WithLabelValues("storage.list", "TransientIO")))
}

func TestPrometheusRecorderJobAndStep(t *testing.T) {
	r := NewPrometheusRecorder()
	ctx := context.Background()
	je, se := finishedExecutions()

	r.RecordStepEnd(ctx, se)
	r.RecordJobEnd(ctx, je)
	r.RecordDuration(ctx, "evaluate", 20*time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.stepStatusCounter.WithLabelValues("retrainJob", "performanceEvaluator", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobStatusCounter.WithLabelValues("retrainJob", "COMPLETED")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.jobDurationSeconds))
	assert.Equal(t, 1, testutil.CollectAndCount(r.operationDurationSeconds))
}

func TestPrometheusRecorderPush(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewPrometheusRecorder()
	r.RecordSpanPublished(context.Background(), 1, 4, 1)
	require.NoError(t, r.Push(context.Background(), srv.URL, "retrainer"))
	assert.True(t, strings.HasSuffix(gotPath, "/job/retrainer"), gotPath)
}

func TestOpenTelemetryTracerSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := NewOpenTelemetryTracer(tp)
	je, se := finishedExecutions()

	ctx, endJob := tracer.StartJobSpan(context.Background(), je)
	stepCtx, endStep := tracer.StartStepSpan(ctx, se)
	tracer.RecordEvent(stepCtx, "evaluated", map[string]interface{}{"accuracy": 0.7, "total": 100})
	tracer.RecordError(stepCtx, "evaluator", errors.New("boom"))
	endStep()
	endJob()

	ended := sr.Ended()
	require.Len(t, ended, 2)
	step, job := ended[0], ended[1]
	assert.Equal(t, "step performanceEvaluator", step.Name())
	assert.Equal(t, "job retrainJob", job.Name())
	assert.Equal(t, job.SpanContext().SpanID(), step.Parent().SpanID())
	assert.Equal(t, otelcodes.Error, step.Status().Code)
	require.Len(t, step.Events(), 2)
	assert.Equal(t, "evaluated", step.Events()[0].Name)
}

func TestOTelMetricRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := NewOTelMetricRecorder(provider)
	require.NoError(t, err)

	ctx := context.Background()
	je, se := finishedExecutions()
	r.RecordStepEnd(ctx, se)
	r.RecordJobEnd(ctx, je)
	r.RecordEvaluation(ctx, metrics.EvaluationSample{Total: 100, Correct: 82, Accuracy: 0.82, Threshold: 0.8, Decision: "KEEP"})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["batch.job.runs"])
	assert.True(t, names["batch.step.duration"])
	assert.True(t, names["retrain.evaluation.accuracy"])
	assert.True(t, names["retrain.decisions"])
}
