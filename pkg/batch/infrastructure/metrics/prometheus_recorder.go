package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
// A one-shot job cannot be scraped, so the registry is pushed to a Pushgateway when the job ends.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Job Metrics
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	// Step Metrics
	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec

	retryCounter *prometheus.CounterVec

	// Retrain Metrics
	evaluationAccuracy  prometheus.Gauge
	evaluationThreshold prometheus.Gauge
	evaluationRecords   *prometheus.GaugeVec
	decisionCounter     *prometheus.CounterVec
	latestSpan          prometheus.Gauge
	spanSamples         *prometheus.GaugeVec

	operationDurationSeconds *prometheus.HistogramVec
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder creates a new instance of PrometheusRecorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_job_duration_seconds",
			Help:    "Duration of batch job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status", "exit_status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_job_status_total",
			Help: "Total number of batch job executions by status.",
		}, []string{"job_name", "status"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_step_duration_seconds",
			Help:    "Duration of batch step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status", "exit_status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_status_total",
			Help: "Total number of batch step executions by status.",
		}, []string{"job_name", "step_name", "status"}),
		retryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_retry_total",
			Help: "Total retried attempts by operation and reason.",
		}, []string{"operation", "reason"}),
		evaluationAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "retrain_evaluation_accuracy",
			Help: "Accuracy of the latest evaluated prediction run.",
		}),
		evaluationThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "retrain_evaluation_threshold",
			Help: "Accuracy threshold below which the model is retrained.",
		}),
		evaluationRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "retrain_evaluation_records",
			Help: "Prediction records of the latest evaluation by outcome.",
		}, []string{"outcome"}),
		decisionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retrain_decision_total",
			Help: "Total retrain decisions by value.",
		}, []string{"decision"}),
		latestSpan: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "retrain_latest_span",
			Help: "Number of the most recently published span.",
		}),
		spanSamples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "retrain_span_samples",
			Help: "Samples of the most recently published span by partition.",
		}, []string{"partition"}),
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_operation_duration_seconds",
			Help:    "Duration of named operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	// Register all metrics with the registry.
	registry.MustRegister(
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.stepDurationSeconds,
		r.stepStatusCounter,
		r.retryCounter,
		r.evaluationAccuracy,
		r.evaluationThreshold,
		r.evaluationRecords,
		r.decisionCounter,
		r.latestSpan,
		r.spanSamples,
		r.operationDurationSeconds,
	)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Push sends the registry to the Pushgateway at url under the given job label.
func (r *PrometheusRecorder) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return err
	}
	logger.Infof("Metrics: Pushed metrics to %s (job=%s).", url, job)
	return nil
}

// RecordJobStart records the start of a JobExecution.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Job '%s' started.", execution.JobName)
}

// RecordJobEnd records the end of a JobExecution.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()

	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	r.jobDurationSeconds.WithLabelValues(
		execution.JobName,
		execution.Status.String(),
		execution.ExitStatus.String(),
	).Observe(duration)

	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", execution.JobName, duration)
}

// RecordStepStart records the start of a StepExecution.
func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(jobNameOf(execution), execution.StepName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Step '%s' started.", execution.StepName)
}

// RecordStepEnd records the end of a StepExecution.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	jobName := jobNameOf(execution)

	r.stepStatusCounter.WithLabelValues(jobName, execution.StepName, execution.Status.String()).Inc()
	r.stepDurationSeconds.WithLabelValues(
		jobName,
		execution.StepName,
		execution.Status.String(),
		execution.ExitStatus.String(),
	).Observe(duration)

	logger.Debugf("Metrics: Step '%s' ended. Duration: %.3fs", execution.StepName, duration)
}

// RecordRetry counts one retried attempt.
func (r *PrometheusRecorder) RecordRetry(ctx context.Context, operation string, reason string) {
	r.retryCounter.WithLabelValues(operation, reason).Inc()
}

// RecordEvaluation publishes the outcome of an evaluation.
func (r *PrometheusRecorder) RecordEvaluation(ctx context.Context, sample metrics.EvaluationSample) {
	r.evaluationAccuracy.Set(sample.Accuracy)
	r.evaluationThreshold.Set(sample.Threshold)
	r.evaluationRecords.WithLabelValues("correct").Set(float64(sample.Correct))
	r.evaluationRecords.WithLabelValues("incorrect").Set(float64(sample.Total - sample.Correct))
	r.decisionCounter.WithLabelValues(sample.Decision).Inc()
}

// RecordSpanPublished publishes the number and size of a new span.
func (r *PrometheusRecorder) RecordSpanPublished(ctx context.Context, span int, trainCount, validationCount int) {
	r.latestSpan.Set(float64(span))
	r.spanSamples.WithLabelValues("train").Set(float64(trainCount))
	r.spanSamples.WithLabelValues("validation").Set(float64(validationCount))
}

// RecordDuration records the execution time of a named operation. Tags are not used as labels
// to keep the label set fixed.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

func jobNameOf(execution *model.StepExecution) string {
	if execution.JobExecution != nil {
		return execution.JobExecution.JobName
	}
	return ""
}
