package metrics

import "go.uber.org/fx"

// Module provides no-op implementations. Applications that enable a backend replace them
// with fx.Decorate (see pkg/batch/infrastructure/metrics).
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewNoOpMetricRecorder, fx.As(new(MetricRecorder))),
		fx.Annotate(NewNoOpTracer, fx.As(new(Tracer))),
	),
)
