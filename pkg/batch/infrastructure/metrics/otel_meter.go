package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// OTelMetricRecorder records batch metrics through an OpenTelemetry meter.
type OTelMetricRecorder struct {
	jobRuns          metric.Int64Counter
	jobDuration      metric.Float64Histogram
	stepRuns         metric.Int64Counter
	stepDuration     metric.Float64Histogram
	retries          metric.Int64Counter
	accuracy         metric.Float64Gauge
	decisions        metric.Int64Counter
	latestSpan       metric.Int64Gauge
	operationLatency metric.Float64Histogram
}

var _ metrics.MetricRecorder = (*OTelMetricRecorder)(nil)

// NewOTelMetricRecorder creates the instruments on provider's meter.
func NewOTelMetricRecorder(provider metric.MeterProvider) (*OTelMetricRecorder, error) {
	meter := provider.Meter(instrumentationName)
	r := &OTelMetricRecorder{}
	var err error

	if r.jobRuns, err = meter.Int64Counter("batch.job.runs", metric.WithDescription("Finished job executions.")); err != nil {
		return nil, err
	}
	if r.jobDuration, err = meter.Float64Histogram("batch.job.duration", metric.WithUnit("s"), metric.WithDescription("Duration of job executions.")); err != nil {
		return nil, err
	}
	if r.stepRuns, err = meter.Int64Counter("batch.step.runs", metric.WithDescription("Finished step executions.")); err != nil {
		return nil, err
	}
	if r.stepDuration, err = meter.Float64Histogram("batch.step.duration", metric.WithUnit("s"), metric.WithDescription("Duration of step executions.")); err != nil {
		return nil, err
	}
	if r.retries, err = meter.Int64Counter("batch.retries", metric.WithDescription("Retried attempts.")); err != nil {
		return nil, err
	}
	if r.accuracy, err = meter.Float64Gauge("retrain.evaluation.accuracy", metric.WithDescription("Accuracy of the latest evaluation.")); err != nil {
		return nil, err
	}
	if r.decisions, err = meter.Int64Counter("retrain.decisions", metric.WithDescription("Retrain decisions by value.")); err != nil {
		return nil, err
	}
	if r.latestSpan, err = meter.Int64Gauge("retrain.span.latest", metric.WithDescription("Most recently published span.")); err != nil {
		return nil, err
	}
	if r.operationLatency, err = meter.Float64Histogram("batch.operation.duration", metric.WithUnit("s"), metric.WithDescription("Duration of named operations.")); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OTelMetricRecorder) RecordJobStart(context.Context, *model.JobExecution) {}

func (r *OTelMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	attrs := metric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", execution.Status.String()),
	)
	r.jobRuns.Add(ctx, 1, attrs)
	if execution.EndTime != nil {
		r.jobDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

func (r *OTelMetricRecorder) RecordStepStart(context.Context, *model.StepExecution) {}

func (r *OTelMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	attrs := metric.WithAttributes(
		attribute.String("job_name", jobNameOf(execution)),
		attribute.String("step_name", execution.StepName),
		attribute.String("status", execution.Status.String()),
		attribute.String("exit_status", execution.ExitStatus.String()),
	)
	r.stepRuns.Add(ctx, 1, attrs)
	if execution.EndTime != nil {
		r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

func (r *OTelMetricRecorder) RecordRetry(ctx context.Context, operation string, reason string) {
	r.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("reason", reason),
	))
}

func (r *OTelMetricRecorder) RecordEvaluation(ctx context.Context, sample metrics.EvaluationSample) {
	r.accuracy.Record(ctx, sample.Accuracy, metric.WithAttributes(attribute.Float64("threshold", sample.Threshold)))
	r.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", sample.Decision)))
}

func (r *OTelMetricRecorder) RecordSpanPublished(ctx context.Context, span int, trainCount, validationCount int) {
	r.latestSpan.Record(ctx, int64(span), metric.WithAttributes(
		attribute.Int("train", trainCount),
		attribute.Int("validation", validationCount),
	))
}

func (r *OTelMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := []attribute.KeyValue{attribute.String("operation", name)}
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operationLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// NewMeterProvider builds an SDK meter provider exporting periodically over OTLP.
func NewMeterProvider(ctx context.Context, cfg config.OTelMetricsConfig, serviceName string) (*sdkmetric.MeterProvider, error) {
	var exporter sdkmetric.Exporter
	var err error
	switch cfg.OTLP.Protocol {
	case "", "grpc":
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLP.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLP.Endpoint))
		}
		if cfg.OTLP.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	case "http":
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLP.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLP.Endpoint))
		}
		if cfg.OTLP.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol '%s'", cfg.OTLP.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	interval := time.Duration(cfg.ExportIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	logger.Infof("Metrics: Exporting OTel metrics over OTLP/%s to '%s' every %s.", cfg.OTLP.Protocol, cfg.OTLP.Endpoint, interval)
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(newResource(serviceName)),
	), nil
}
