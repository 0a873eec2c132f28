// Package metrics provides the Prometheus and OpenTelemetry backends of the core metrics ports.
package metrics

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

type recorderParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Base      metrics.MetricRecorder
}

// decorateRecorder replaces the no-op recorder with the backends enabled in configuration.
func decorateRecorder(p recorderParams) (metrics.MetricRecorder, error) {
	mc := p.Config.Retrainer.Metrics
	var recorders []metrics.MetricRecorder

	if mc.Prometheus.Enabled {
		prom := NewPrometheusRecorder()
		recorders = append(recorders, prom)
		if mc.Prometheus.PushGatewayURL != "" {
			p.Lifecycle.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					if err := prom.Push(ctx, mc.Prometheus.PushGatewayURL, mc.Prometheus.JobLabel); err != nil {
						logger.Warnf("Metrics: Failed to push to Pushgateway: %v", err)
					}
					return nil
				},
			})
		}
	}

	if mc.OTel.Enabled {
		provider, err := NewMeterProvider(context.Background(), mc.OTel, p.Config.Retrainer.Tracing.ServiceName)
		if err != nil {
			return nil, err
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				var result error
				if err := provider.ForceFlush(ctx); err != nil {
					result = multierror.Append(result, err)
				}
				if err := provider.Shutdown(ctx); err != nil {
					result = multierror.Append(result, err)
				}
				return result
			},
		})
		otelRecorder, err := NewOTelMetricRecorder(provider)
		if err != nil {
			return nil, err
		}
		recorders = append(recorders, otelRecorder)
	}

	switch len(recorders) {
	case 0:
		return p.Base, nil
	case 1:
		return recorders[0], nil
	}
	return metrics.NewCompositeMetricRecorder(recorders...), nil
}

type tracerParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Base      metrics.Tracer
}

// decorateTracer replaces the no-op tracer with an OpenTelemetry tracer when tracing is enabled.
func decorateTracer(p tracerParams) (metrics.Tracer, error) {
	tc := p.Config.Retrainer.Tracing
	if !tc.Enabled {
		return p.Base, nil
	}
	provider, err := NewTracerProvider(context.Background(), tc)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})
	return NewOpenTelemetryTracer(provider), nil
}

// Module decorates the metrics.MetricRecorder and metrics.Tracer provided by the core metrics
// module with the backends enabled under retrainer.metrics and retrainer.tracing.
var Module = fx.Options(
	fx.Decorate(decorateRecorder),
	fx.Decorate(decorateTracer),
)
