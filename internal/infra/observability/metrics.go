package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsCollector records session lifecycle metrics and exposes them for
// Prometheus scraping.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	sessionsStarted  metric.Int64Counter
	sessionsActive   metric.Int64UpDownCounter
	sessionsFinished metric.Int64Counter
	sessionDuration  metric.Float64Histogram
	framesEmitted    metric.Int64Counter
	cancelRequests   metric.Int64Counter
	recordsPersisted metric.Int64Counter
	engineStarts     metric.Int64Counter
}

// NewMetricsCollector creates a collector. A disabled config returns a
// collector whose methods do nothing.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("taskstream")

	m := &MetricsCollector{provider: provider, registry: registry}
	if m.sessionsStarted, err = meter.Int64Counter(
		"taskstream.sessions.started",
		metric.WithDescription("Streaming sessions started"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sessions_started counter: %w", err)
	}
	if m.sessionsActive, err = meter.Int64UpDownCounter(
		"taskstream.sessions.active",
		metric.WithDescription("Streaming sessions currently running"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sessions_active gauge: %w", err)
	}
	if m.sessionsFinished, err = meter.Int64Counter(
		"taskstream.sessions.finished",
		metric.WithDescription("Streaming sessions finished, by outcome"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sessions_finished counter: %w", err)
	}
	if m.sessionDuration, err = meter.Float64Histogram(
		"taskstream.session.duration",
		metric.WithDescription("Streaming session duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create session_duration histogram: %w", err)
	}
	if m.framesEmitted, err = meter.Int64Counter(
		"taskstream.frames.emitted",
		metric.WithDescription("Wire frames written to clients, by message type"),
		metric.WithUnit("{frame}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create frames_emitted counter: %w", err)
	}
	if m.cancelRequests, err = meter.Int64Counter(
		"taskstream.cancel.requests",
		metric.WithDescription("Stop requests, by whether a live session was found"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cancel_requests counter: %w", err)
	}
	if m.recordsPersisted, err = meter.Int64Counter(
		"taskstream.records.persisted",
		metric.WithDescription("Transcript persistence attempts, by status"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create records_persisted counter: %w", err)
	}
	if m.engineStarts, err = meter.Int64Counter(
		"taskstream.engine.starts",
		metric.WithDescription("Engine stream starts, by engine and status"),
		metric.WithUnit("{start}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create engine_starts counter: %w", err)
	}
	return m, nil
}

// Enabled reports whether the collector records anything.
func (m *MetricsCollector) Enabled() bool {
	return m != nil && m.registry != nil
}

// Handler serves the Prometheus exposition format.
func (m *MetricsCollector) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *MetricsCollector) SessionStarted(ctx context.Context) {
	if !m.Enabled() {
		return
	}
	m.sessionsStarted.Add(ctx, 1)
	m.sessionsActive.Add(ctx, 1)
}

func (m *MetricsCollector) SessionFinished(ctx context.Context, outcome string, frames int, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.sessionsActive.Add(ctx, -1)
	m.sessionsFinished.Add(ctx, 1, attrs)
	m.sessionDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *MetricsCollector) FrameEmitted(ctx context.Context, messageType string) {
	if !m.Enabled() {
		return
	}
	m.framesEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("message_type", messageType)))
}

func (m *MetricsCollector) CancelRequested(ctx context.Context, found bool) {
	if !m.Enabled() {
		return
	}
	m.cancelRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("found", strconv.FormatBool(found))))
}

func (m *MetricsCollector) RecordFinished(ctx context.Context, err error) {
	if !m.Enabled() {
		return
	}
	m.recordsPersisted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusOf(err))))
}

// EngineStarted counts engine start attempts.
func (m *MetricsCollector) EngineStarted(ctx context.Context, engineName string, err error) {
	if !m.Enabled() {
		return
	}
	m.engineStarts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engineName),
		attribute.String("status", statusOf(err)),
	))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
