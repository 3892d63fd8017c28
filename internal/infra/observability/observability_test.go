package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskstream/internal/domain/engine"
	"taskstream/internal/domain/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.True(t, config.Metrics.Enabled)
	assert.False(t, config.Tracing.Enabled)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, 1.0, config.Tracing.SampleRate)
}

func TestLoadConfig_NonExistent(t *testing.T) {
	config, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)
}

func TestLoadConfig_ValidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "taskstream.yaml")
	content := `
server:
  port: 8080
observability:
  logging:
    level: debug
    format: json
  metrics:
    enabled: false
  tracing:
    enabled: true
    exporter: zipkin
    sample_rate: 0.5
    service_name: taskstream-test
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.False(t, config.Metrics.Enabled)
	assert.True(t, config.Tracing.Enabled)
	assert.Equal(t, "zipkin", config.Tracing.Exporter)
	assert.Equal(t, 0.5, config.Tracing.SampleRate)
	assert.Equal(t, "taskstream-test", config.Tracing.ServiceName)
	assert.Equal(t, "localhost:4318", config.Tracing.OTLPEndpoint, "unset keys keep defaults")
}

func TestLoadConfig_WithoutSectionKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "taskstream.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("stream:\n  step_budget: 10\n"), 0o644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.True(t, config.Metrics.Enabled)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("observability: [unclosed"), 0o644))

	_, err := LoadConfig(configPath)
	assert.Error(t, err)
}

func TestMetricsCollectorExposesSessionMetrics(t *testing.T) {
	metrics, err := NewMetricsCollector(MetricsConfig{Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = metrics.Shutdown(context.Background()) })

	ctx := context.Background()
	metrics.SessionStarted(ctx)
	metrics.FrameEmitted(ctx, "continue")
	metrics.CancelRequested(ctx, false)
	metrics.RecordFinished(ctx, errors.New("db down"))
	metrics.SessionFinished(ctx, "cancelled", 3, 120*time.Millisecond)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "taskstream_sessions_started")
	assert.Contains(t, body, "taskstream_frames_emitted")
	assert.Contains(t, body, `message_type="continue"`)
	assert.Contains(t, body, `found="false"`)
	assert.Contains(t, body, `outcome="cancelled"`)
	assert.Contains(t, body, `status="error"`)
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	metrics, err := NewMetricsCollector(MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, metrics.Enabled())

	ctx := context.Background()
	assert.NotPanics(t, func() {
		metrics.SessionStarted(ctx)
		metrics.SessionFinished(ctx, "completed", 1, time.Second)
		metrics.EngineStarted(ctx, "scripted", nil)
	})

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, metrics.Shutdown(ctx))
}

func TestTracerProviderDisabledIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(TracingConfig{Enabled: false})
	require.NoError(t, err)

	_, span := tp.StartSpan(context.Background(), SpanEngineStart)
	span.End()
	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTracerProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewTracerProvider(TracingConfig{Enabled: true, Exporter: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unsupported exporter")
}

func TestInstrumentedWrappersDelegate(t *testing.T) {
	obs := New(Config{Metrics: MetricsConfig{Enabled: true}}, io.Discard)
	t.Cleanup(func() { _ = obs.Shutdown(context.Background()) })

	inner := engine.Producer(func(ctx context.Context, req engine.Request, emit engine.Emit) error {
		return emit(engine.ContentChunk(req.Query))
	})
	eng := NewInstrumentedEngine("scripted", inner, obs)
	stream, err := eng.Start(context.Background(), engine.Request{Query: "ping"})
	require.NoError(t, err)
	require.True(t, stream.Next())
	assert.Equal(t, "ping", stream.Event().Content)
	require.NoError(t, stream.Close())

	var got transcript.Record
	recorder := NewInstrumentedRecorder("memory", transcript.RecorderFunc(func(_ context.Context, rec transcript.Record) error {
		got = rec
		return nil
	}), obs)
	require.NoError(t, recorder.Record(context.Background(), transcript.Record{RecordID: "r1"}))
	assert.Equal(t, "r1", got.RecordID)
	assert.Nil(t, NewInstrumentedRecorder("none", nil, obs))
}
