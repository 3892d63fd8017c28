package session

import (
	"context"
	"time"

	"taskstream/internal/domain/transcript"
	"taskstream/internal/shared/logging"
	"taskstream/internal/shared/utils/id"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	DefaultStepBudget     = 25
	DefaultThreadID       = "default_thread"
	DefaultRecordTimeout  = 10 * time.Second
	unknownToolFallback   = "unknown tool"
	tracerInstrumentation = "taskstream/session"
)

// Messages holds the client-facing texts the session emits.
type Messages struct {
	Stopped     string
	ToolInvoked string
	UnknownTool string
	Failed      string
}

// DefaultMessages returns the stock English texts.
func DefaultMessages() Messages {
	return Messages{
		Stopped:     "\n> This message has been stopped",
		ToolInvoked: "> Tool invoked: ",
		UnknownTool: unknownToolFallback,
		Failed:      "[ERROR] Agent run failed",
	}
}

func (m Messages) withDefaults() Messages {
	def := DefaultMessages()
	if m.Stopped == "" {
		m.Stopped = def.Stopped
	}
	if m.ToolInvoked == "" {
		m.ToolInvoked = def.ToolInvoked
	}
	if m.UnknownTool == "" {
		m.UnknownTool = def.UnknownTool
	}
	if m.Failed == "" {
		m.Failed = def.Failed
	}
	return m
}

func (m Messages) toolLine(name string) string {
	if name == "" {
		name = m.UnknownTool
	}
	return m.ToolInvoked + name + "\n\n"
}

// Metrics receives session lifecycle signals.
type Metrics interface {
	SessionStarted(ctx context.Context)
	SessionFinished(ctx context.Context, outcome string, frames int, duration time.Duration)
	FrameEmitted(ctx context.Context, messageType string)
	CancelRequested(ctx context.Context, found bool)
	RecordFinished(ctx context.Context, err error)
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted(context.Context)                              {}
func (nopMetrics) SessionFinished(context.Context, string, int, time.Duration) {}
func (nopMetrics) FrameEmitted(context.Context, string)                        {}
func (nopMetrics) CancelRequested(context.Context, bool)                       {}
func (nopMetrics) RecordFinished(context.Context, error)                       {}

// Option configures a Runner.
type Option func(*Runner)

// WithStepBudget bounds engine iterations per session.
func WithStepBudget(budget int) Option {
	return func(r *Runner) {
		if budget > 0 {
			r.stepBudget = budget
		}
	}
}

// WithDefaultThreadID sets the thread used when a request carries none.
func WithDefaultThreadID(threadID string) Option {
	return func(r *Runner) {
		if threadID != "" {
			r.defaultThreadID = threadID
		}
	}
}

// WithAppTag sets the tag attached to persisted records.
func WithAppTag(tag string) Option {
	return func(r *Runner) {
		if tag != "" {
			r.appTag = tag
		}
	}
}

// WithMessages overrides the client-facing texts. Empty fields keep defaults.
func WithMessages(messages Messages) Option {
	return func(r *Runner) {
		r.messages = messages.withDefaults()
	}
}

// WithRecorder sets where completed turns are persisted.
func WithRecorder(recorder transcript.Recorder) Option {
	return func(r *Runner) {
		r.recorder = recorder
	}
}

// WithRecordTimeout bounds each background persistence call.
func WithRecordTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout > 0 {
			r.recordTimeout = timeout
		}
	}
}

// WithSessionTimeout arms a watchdog that cancels sessions running longer
// than timeout. Zero disables it.
func WithSessionTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout >= 0 {
			r.sessionTimeout = timeout
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Runner) {
		r.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the lifecycle metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(r *Runner) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// WithTracer sets the tracer used for session spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithRecordIDGenerator overrides how record ids are minted.
func WithRecordIDGenerator(gen func() string) Option {
	return func(r *Runner) {
		if gen != nil {
			r.newRecordID = gen
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func defaultRunner() *Runner {
	return &Runner{
		logger:          logging.NewComponentLogger("StreamingSession"),
		metrics:         nopMetrics{},
		tracer:          noop.NewTracerProvider().Tracer(tracerInstrumentation),
		stepBudget:      DefaultStepBudget,
		defaultThreadID: DefaultThreadID,
		appTag:          transcript.DefaultAppTag,
		messages:        DefaultMessages(),
		recordTimeout:   DefaultRecordTimeout,
		newRecordID:     id.NewRecordID,
		now:             time.Now,
	}
}
