// Package session drives one streaming computation from engine events to
// wire frames, honouring cooperative cancellation through the task registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"taskstream/internal/domain/engine"
	"taskstream/internal/domain/frame"
	"taskstream/internal/domain/task"
	"taskstream/internal/domain/transcript"
	"taskstream/internal/shared/async"
	"taskstream/internal/shared/logging"
	"taskstream/internal/shared/utils/id"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrInvalidRequest is returned when a request cannot start a session.
var ErrInvalidRequest = errors.New("invalid session request")

// Sink receives encoded frames in order.
type Sink interface {
	Send(record []byte) error
}

// Flusher is implemented by sinks that buffer writes.
type Flusher interface {
	Flush() error
}

// Request starts one session.
type Request struct {
	TaskKey     string
	Query       string
	ThreadID    string
	RecordID    string
	Credential  string
	Attachments []transcript.Attachment
}

// Summary describes how a session ended.
type Summary struct {
	TaskKey          string
	ThreadID         string
	RecordID         string
	Outcome          engine.OutcomeKind
	Frames           int
	TranscriptChunks int
	Persisted        bool
	Err              error
	Duration         time.Duration
}

// Runner executes streaming sessions against one engine.
type Runner struct {
	registry *task.Registry
	engine   engine.Engine
	recorder transcript.Recorder

	logger  logging.Logger
	metrics Metrics
	tracer  trace.Tracer

	stepBudget      int
	defaultThreadID string
	appTag          string
	messages        Messages
	recordTimeout   time.Duration
	sessionTimeout  time.Duration
	newRecordID     func() string
	now             func() time.Time
}

// NewRunner wires a runner to the registry that tracks its sessions and the
// engine that produces step events.
func NewRunner(registry *task.Registry, eng engine.Engine, opts ...Option) *Runner {
	r := defaultRunner()
	r.registry = registry
	r.engine = eng
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// StepBudget returns the configured per-session engine step limit.
func (r *Runner) StepBudget() int {
	return r.stepBudget
}

// Run streams one computation into sink. The returned error is non-nil only
// when the session could not start; every later failure is reported to the
// client as a frame and summarised in the returned Summary.
func (r *Runner) Run(ctx context.Context, req Request, sink Sink) (Summary, error) {
	if strings.TrimSpace(req.TaskKey) == "" {
		return Summary{}, fmt.Errorf("%w: empty task key", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Query) == "" {
		return Summary{}, fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}
	if sink == nil {
		return Summary{}, fmt.Errorf("%w: nil sink", ErrInvalidRequest)
	}

	tok, err := r.registry.Register(req.TaskKey)
	if err != nil {
		return Summary{}, err
	}
	defer r.registry.Release(req.TaskKey, tok)

	threadID := req.ThreadID
	if threadID == "" {
		threadID = r.defaultThreadID
	}
	ctx = id.WithCallerID(ctx, req.TaskKey)
	ctx = id.WithThreadID(ctx, threadID)
	logger := logging.FromContext(ctx, r.logger)

	ctx, span := r.tracer.Start(ctx, "taskstream.session.run", trace.WithAttributes(
		attribute.String("taskstream.task_key", req.TaskKey),
		attribute.String("taskstream.thread_id", threadID),
	))
	defer span.End()

	started := r.now()
	r.metrics.SessionStarted(ctx)
	logger.Info("session started: key=%s thread=%s", req.TaskKey, threadID)

	if r.sessionTimeout > 0 {
		timer := time.AfterFunc(r.sessionTimeout, func() {
			if tok.Cancel() {
				logger.Warn("session watchdog fired after %s: key=%s", r.sessionTimeout, req.TaskKey)
			}
		})
		defer timer.Stop()
	}

	st := &state{
		runner:   r,
		ctx:      ctx,
		logger:   logger,
		sink:     sink,
		token:    tok,
		req:      req,
		threadID: threadID,
	}
	st.execute()

	summary := st.summary()
	summary.Duration = r.now().Sub(started)
	r.metrics.SessionFinished(ctx, string(summary.Outcome), summary.Frames, summary.Duration)

	span.SetAttributes(
		attribute.String("taskstream.outcome", string(summary.Outcome)),
		attribute.Int("taskstream.frames", summary.Frames),
	)
	if summary.Err != nil {
		span.RecordError(summary.Err)
		span.SetStatus(codes.Error, "session failed")
	}
	logger.Info("session finished: key=%s outcome=%s frames=%d duration=%s",
		req.TaskKey, summary.Outcome, summary.Frames, summary.Duration)
	return summary, nil
}

// state is the per-run bookkeeping of one session.
type state struct {
	runner   *Runner
	ctx      context.Context
	logger   logging.Logger
	sink     Sink
	token    *task.Token
	req      Request
	threadID string

	chunks    []string
	frames    int
	outcome   engine.OutcomeKind
	err       error
	terminal  bool
	recordID  string
	persisted bool
}

func (s *state) execute() {
	defer async.RecoverWith(s.logger, "session", func(recovered any) {
		s.fail(fmt.Errorf("session panic: %v", recovered))
	})

	stream, err := s.runner.engine.Start(s.ctx, engine.Request{
		Query:      s.req.Query,
		ThreadID:   s.threadID,
		StepBudget: s.runner.stepBudget,
	})
	if err != nil {
		s.fail(fmt.Errorf("start engine: %w", err))
		return
	}
	defer func() {
		if err := stream.Close(); err != nil {
			s.logger.Warn("close engine stream: %v", err)
		}
	}()

	for stream.Next() {
		if s.token.Cancelled() {
			s.stop()
			return
		}
		if err := s.handle(stream.Event()); err != nil {
			s.fail(err)
			return
		}
	}

	outcome := stream.Outcome()
	switch outcome.Kind {
	case engine.OutcomeCancelled:
		s.logger.Info("engine reported cancellation: %v", outcome.Err)
		s.stop()
	case engine.OutcomeFailed:
		s.fail(outcome.Err)
	default:
		if s.token.Cancelled() {
			s.stop()
			return
		}
		s.outcome = engine.OutcomeCompleted
		s.persist()
	}
}

func (s *state) handle(ev engine.StepEvent) error {
	switch ev.Kind {
	case engine.KindToolInvocation:
		line := s.runner.messages.toolLine(ev.ToolName)
		if err := s.emit(frame.Continue(line)); err != nil {
			return err
		}
		s.chunks = append(s.chunks, line)
	case engine.KindContentChunk:
		if ev.Content == "" {
			return nil
		}
		s.chunks = append(s.chunks, ev.Content)
		if err := s.emit(frame.Continue(ev.Content)); err != nil {
			return err
		}
		if err := s.flush(); err != nil {
			return fmt.Errorf("flush sink: %w", err)
		}
		runtime.Gosched()
	}
	return nil
}

func (s *state) emit(f frame.Frame) error {
	if err := s.send(frame.Encode(f)); err != nil {
		return fmt.Errorf("send %s frame: %w", f.MessageType, err)
	}
	s.frames++
	s.runner.metrics.FrameEmitted(s.ctx, string(f.MessageType))
	return nil
}

// send hands record to the sink, reporting a sink panic as an error.
func (s *state) send(record []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return s.sink.Send(record)
}

func (s *state) flush() (err error) {
	flusher, ok := s.sink.(Flusher)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink flush panic: %v", r)
		}
	}()
	return flusher.Flush()
}

// stop emits the stop notice followed by the end frame.
func (s *state) stop() {
	s.outcome = engine.OutcomeCancelled
	if s.terminal {
		return
	}
	s.terminal = true
	s.logger.Info("session stopped: key=%s chunks=%d", s.req.TaskKey, len(s.chunks))
	if err := s.emit(frame.Info(s.runner.messages.Stopped)); err != nil {
		s.logger.Warn("deliver stop notice: %v", err)
		return
	}
	if err := s.emit(frame.End()); err != nil {
		s.logger.Warn("deliver end frame: %v", err)
	}
	_ = s.flush()
}

// fail logs err in full and emits one generic error frame.
func (s *state) fail(err error) {
	s.outcome = engine.OutcomeFailed
	s.err = err
	if s.terminal {
		s.logger.Error("session failed after terminal frame: key=%s: %v", s.req.TaskKey, err)
		return
	}
	s.terminal = true
	s.logger.Error("session failed: key=%s: %v", s.req.TaskKey, err)
	if sendErr := s.emit(frame.Error(s.runner.messages.Failed)); sendErr != nil {
		s.logger.Warn("deliver error frame: %v", sendErr)
		return
	}
	_ = s.flush()
}

// persist hands the finished transcript to the recorder without waiting.
func (s *state) persist() {
	recorder := s.runner.recorder
	if recorder == nil {
		return
	}
	s.recordID = s.req.RecordID
	if s.recordID == "" {
		s.recordID = s.runner.newRecordID()
	}
	rec := transcript.Record{
		RecordID:    s.recordID,
		ThreadID:    s.threadID,
		Query:       s.req.Query,
		Chunks:      append([]string(nil), s.chunks...),
		Metadata:    map[string]string{},
		AppTag:      s.runner.appTag,
		CallerID:    s.req.TaskKey,
		Credential:  s.req.Credential,
		Attachments: append([]transcript.Attachment(nil), s.req.Attachments...),
		CreatedAt:   s.runner.now(),
	}
	s.persisted = true

	ctx := context.WithoutCancel(s.ctx)
	timeout := s.runner.recordTimeout
	logger := s.logger
	metrics := s.runner.metrics
	async.Go(logger, "transcript-record", func() {
		recordCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := recorder.Record(recordCtx, rec)
		metrics.RecordFinished(recordCtx, err)
		if err != nil {
			logger.Warn("persist record %s failed: %v", rec.RecordID, err)
			return
		}
		logger.Debug("persisted record %s (%d chunks)", rec.RecordID, len(rec.Chunks))
	})
}

func (s *state) summary() Summary {
	return Summary{
		TaskKey:          s.req.TaskKey,
		ThreadID:         s.threadID,
		RecordID:         s.recordID,
		Outcome:          s.outcome,
		Frames:           s.frames,
		TranscriptChunks: len(s.chunks),
		Persisted:        s.persisted,
		Err:              s.err,
	}
}
