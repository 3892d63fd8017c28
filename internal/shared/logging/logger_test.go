package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"

	"taskstream/internal/shared/utils/id"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.add("DEBUG", format, args...) }
func (r *recordingLogger) Info(format string, args ...any)  { r.add("INFO", format, args...) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.add("WARN", format, args...) }
func (r *recordingLogger) Error(format string, args ...any) { r.add("ERROR", format, args...) }

func (r *recordingLogger) add(level, format string, args ...any) {
	r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
}

func TestOrNopHandlesTypedNilPointers(t *testing.T) {
	var typed *componentLogger
	var logger Logger = typed
	require.True(t, IsNil(logger))

	safe := OrNop(logger)
	require.False(t, IsNil(safe))
	safe.Info("hello %s", "world")
}

func TestFromSlogFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger := FromSlog(base, "test")
	logger.Info("hello %s", "world")
	logger.Debug("hidden %d", 1)

	out := buf.String()
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "component=test")
	assert.NotContains(t, out, "hidden")
}

func TestConfigureSwitchesComponentLoggers(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewComponentLogger("Router")

	Configure(Config{Level: "debug", Format: "json", Output: buf})
	t.Cleanup(func() { Configure(Config{}) })

	logger.Debug("route %s", "/api/chat/stream")
	assert.Contains(t, buf.String(), `"msg":"route /api/chat/stream"`)
	assert.Contains(t, buf.String(), `"component":"Router"`)
}

func TestFromContextAttachesLogID(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.New(slog.NewTextHandler(buf, nil))
	ctx := id.WithLogID(context.Background(), "log-abc")

	FromContext(ctx, FromSlog(base, "session")).Info("started")
	assert.Contains(t, buf.String(), "log_id=log-abc")

	rec := &recordingLogger{}
	FromContext(ctx, rec).Warn("slow %d", 3)
	require.Len(t, rec.lines, 1)
	assert.Equal(t, "WARN logid=log-abc slow 3", rec.lines[0])
}

func TestMultiFlattensAndSkipsNil(t *testing.T) {
	first := &recordingLogger{}
	second := &recordingLogger{}
	var typed *componentLogger

	logger := Multi(first, nil, typed, Multi(second))
	logger.Error("boom %s", "now")

	assert.Equal(t, []string{"ERROR boom now"}, first.lines)
	assert.Equal(t, []string{"ERROR boom now"}, second.lines)
	assert.Equal(t, Nop(), Multi())
}
