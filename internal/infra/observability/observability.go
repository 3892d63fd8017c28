// Package observability wires logging, metrics and tracing for the service.
package observability

import (
	"context"
	"io"

	"taskstream/internal/shared/logging"
)

// Observability bundles the metrics collector and tracer provider.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerProvider
	config  Config
	logger  logging.Logger
}

// New applies the logging config and builds metrics and tracing. Metrics or
// tracing that fail to initialise degrade to no-ops instead of failing startup.
func New(config Config, logOutput io.Writer) *Observability {
	logging.Configure(logging.Config{
		Level:  config.Logging.Level,
		Format: config.Logging.Format,
		Output: logOutput,
	})
	logger := logging.NewComponentLogger("Observability")

	metrics, err := NewMetricsCollector(config.Metrics)
	if err != nil {
		logger.Error("Failed to initialize metrics: %v", err)
		metrics = &MetricsCollector{}
	}

	tracer, err := NewTracerProvider(config.Tracing)
	if err != nil {
		logger.Error("Failed to initialize tracing: %v", err)
		tracer = &TracerProvider{}
	}

	logger.Info("Observability initialized: log_level=%s metrics_enabled=%t tracing_enabled=%t",
		config.Logging.Level, metrics.Enabled(), config.Tracing.Enabled)

	return &Observability{
		Metrics: metrics,
		Tracer:  tracer,
		config:  config,
		logger:  logger,
	}
}

// Shutdown flushes metrics and tracing.
func (o *Observability) Shutdown(ctx context.Context) error {
	if err := o.Metrics.Shutdown(ctx); err != nil {
		o.logger.Error("Failed to shutdown metrics: %v", err)
	}
	if err := o.Tracer.Shutdown(ctx); err != nil {
		o.logger.Error("Failed to shutdown tracing: %v", err)
	}
	return nil
}

// Config returns the active configuration.
func (o *Observability) Config() Config {
	return o.config
}
