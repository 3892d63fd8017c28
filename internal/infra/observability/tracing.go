package observability

import (
	"context"
	"fmt"

	"taskstream/internal/shared/utils/id"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures distributed tracing
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"` // otlp, zipkin
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint"`
	SampleRate     float64 `yaml:"sample_rate"` // 0.0 to 1.0
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
}

// TracerProvider wraps OpenTelemetry tracer
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

const instrumentationName = "taskstream"

// NewTracerProvider creates a tracer provider. Disabled tracing yields a noop tracer.
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer(instrumentationName),
		}, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = instrumentationName
	}
	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch config.Exporter {
	case "", "otlp":
		endpoint := config.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := config.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
	}, nil
}

// WrapTracerProvider adopts an already configured SDK provider.
func WrapTracerProvider(provider *sdktrace.TracerProvider) *TracerProvider {
	if provider == nil {
		return &TracerProvider{}
	}
	return &TracerProvider{provider: provider, tracer: provider.Tracer(instrumentationName)}
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the tracer
func (tp *TracerProvider) Tracer() trace.Tracer {
	if tp == nil || tp.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return tp.tracer
}

// StartSpan starts a span tagged with the request ids found in ctx.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ids := id.IDsFromContext(ctx)
	if ids.LogID != "" {
		attrs = append(attrs, attribute.String(AttrLogID, ids.LogID))
	}
	if ids.CallerID != "" {
		attrs = append(attrs, attribute.String(AttrTaskKey, ids.CallerID))
	}
	if ids.ThreadID != "" {
		attrs = append(attrs, attribute.String(AttrThreadID, ids.ThreadID))
	}
	return tp.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// Span names
const (
	SpanEngineStart   = "taskstream.engine.start"
	SpanRecordPersist = "taskstream.record.persist"
	SpanHTTPServer    = "taskstream.http.request"
	SpanSSEConnection = "taskstream.sse.connection"
)

// Attribute keys
const (
	AttrLogID    = "taskstream.log_id"
	AttrTaskKey  = "taskstream.task_key"
	AttrThreadID = "taskstream.thread_id"
	AttrEngine   = "taskstream.engine"
	AttrRecorder = "taskstream.recorder"
	AttrRecordID = "taskstream.record_id"
	AttrChunks   = "taskstream.chunks"
	AttrOutcome  = "taskstream.outcome"
	AttrFrames   = "taskstream.frames"
)
