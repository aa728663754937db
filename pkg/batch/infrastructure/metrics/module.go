package metrics

import (
	"go.uber.org/fx"

	coremetrics "github.com/marloq/riptide/pkg/batch/core/metrics"
)

// Module provides PrometheusRecorder and OpenTelemetryTracer as the engine's
// observability ports.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewPrometheusRecorder,
			fx.As(new(coremetrics.MetricRecorder)),
		),
		fx.Annotate(
			NewOpenTelemetryTracer,
			fx.As(new(coremetrics.Tracer)),
		),
	),
)
