package observability

import (
	"context"

	"taskstream/internal/domain/engine"
	"taskstream/internal/domain/transcript"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// InstrumentedEngine wraps an engine with a start span and start counter.
type InstrumentedEngine struct {
	name  string
	inner engine.Engine
	obs   *Observability
}

// NewInstrumentedEngine wraps inner. name labels the engine in spans and metrics.
func NewInstrumentedEngine(name string, inner engine.Engine, obs *Observability) engine.Engine {
	if obs == nil {
		return inner
	}
	return &InstrumentedEngine{name: name, inner: inner, obs: obs}
}

func (e *InstrumentedEngine) Start(ctx context.Context, req engine.Request) (engine.Stream, error) {
	ctx, span := e.obs.Tracer.StartSpan(ctx, SpanEngineStart, attribute.String(AttrEngine, e.name))
	defer span.End()

	stream, err := e.inner.Start(ctx, req)
	e.obs.Metrics.EngineStarted(ctx, e.name, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, err
	}
	return stream, nil
}

// InstrumentedRecorder wraps a recorder with a persistence span.
type InstrumentedRecorder struct {
	name  string
	inner transcript.Recorder
	obs   *Observability
}

// NewInstrumentedRecorder wraps inner. name labels the backend in spans.
func NewInstrumentedRecorder(name string, inner transcript.Recorder, obs *Observability) transcript.Recorder {
	if obs == nil || inner == nil {
		return inner
	}
	return &InstrumentedRecorder{name: name, inner: inner, obs: obs}
}

func (r *InstrumentedRecorder) Record(ctx context.Context, rec transcript.Record) error {
	ctx, span := r.obs.Tracer.StartSpan(ctx, SpanRecordPersist,
		attribute.String(AttrRecorder, r.name),
		attribute.String(AttrRecordID, rec.RecordID),
		attribute.Int(AttrChunks, len(rec.Chunks)),
	)
	defer span.End()

	if err := r.inner.Record(ctx, rec); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return err
	}
	return nil
}
