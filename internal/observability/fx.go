package observability

import (
	"github.com/smallbiznis/mediaforge/internal/observability/logger"
	"github.com/smallbiznis/mediaforge/internal/observability/metrics"
	"github.com/smallbiznis/mediaforge/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module wires logging, tracing and metrics for every binary.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
	),
	fx.Provide(
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.DispatchWithConfig,
	),
	// The tracer provider installs itself globally, so it is forced even when nothing depends on it.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
