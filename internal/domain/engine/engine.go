// Package engine defines the port between the streaming session and the
// computation that produces step events.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrStepBudgetExceeded is returned by engines that ran out of steps before
// reaching an answer.
var ErrStepBudgetExceeded = errors.New("step budget exceeded")

// Kind discriminates step events.
type Kind string

const (
	KindToolInvocation Kind = "tool_invocation"
	KindContentChunk   Kind = "content_chunk"
	KindTerminal       Kind = "terminal"
)

// StepEvent is one unit of progress reported by an engine.
type StepEvent struct {
	Kind     Kind
	ToolName string
	Content  string
}

// ToolInvocation reports that a tool was called.
func ToolInvocation(name string) StepEvent {
	return StepEvent{Kind: KindToolInvocation, ToolName: name}
}

// ContentChunk carries a piece of answer text.
func ContentChunk(text string) StepEvent {
	return StepEvent{Kind: KindContentChunk, Content: text}
}

// Terminal marks an event that carries no client-visible output.
func Terminal() StepEvent {
	return StepEvent{Kind: KindTerminal}
}

// Request describes one computation.
type Request struct {
	Query      string
	ThreadID   string
	StepBudget int
}

// CheckBudget returns ErrStepBudgetExceeded once step reaches the budget.
// A non-positive budget is unlimited.
func (r Request) CheckBudget(step int) error {
	if r.StepBudget > 0 && step >= r.StepBudget {
		return fmt.Errorf("%w: %d steps", ErrStepBudgetExceeded, r.StepBudget)
	}
	return nil
}

// OutcomeKind tells how a stream ended.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the tagged result of an exhausted stream.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// OutcomeOf classifies the error a producer returned.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeCompleted}
	case errors.Is(err, context.Canceled):
		return Outcome{Kind: OutcomeCancelled, Err: err}
	default:
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
}

// Stream yields step events in order.
//
//	for stream.Next() {
//		ev := stream.Event()
//	}
//	outcome := stream.Outcome()
//
// Outcome is meaningful only after Next has returned false. Close releases the
// producer early and is safe to call more than once.
type Stream interface {
	Next() bool
	Event() StepEvent
	Outcome() Outcome
	Close() error
}

// Engine starts computations.
type Engine interface {
	Start(ctx context.Context, req Request) (Stream, error)
}

// Emit hands one event to the consumer. It blocks until the consumer takes
// the event or the context ends.
type Emit func(StepEvent) error

// Producer generates events for one request.
type Producer func(ctx context.Context, req Request, emit Emit) error

// Start lets a bare Producer act as an Engine.
func (p Producer) Start(ctx context.Context, req Request) (Stream, error) {
	return NewStream(ctx, func(ctx context.Context, emit Emit) error {
		return p(ctx, req, emit)
	}), nil
}
