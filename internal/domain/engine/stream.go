package engine

import (
	"context"
	"fmt"
	"sync"
)

type chanStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan StepEvent
	err     error
	current StepEvent
	outcome Outcome
	done    bool

	closeOnce sync.Once
}

// NewStream runs produce in its own goroutine and exposes its events as a
// Stream. The channel is unbuffered, so the producer is at most one event
// ahead of the consumer. A panic in produce ends the stream as failed.
func NewStream(ctx context.Context, produce func(ctx context.Context, emit Emit) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &chanStream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan StepEvent),
	}
	go s.run(produce)
	return s
}

func (s *chanStream) run(produce func(ctx context.Context, emit Emit) error) {
	defer close(s.events)
	defer func() {
		if r := recover(); r != nil {
			s.err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	s.err = produce(s.ctx, s.emit)
}

func (s *chanStream) emit(ev StepEvent) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *chanStream) Next() bool {
	if s.done {
		return false
	}
	ev, ok := <-s.events
	if !ok {
		s.done = true
		s.outcome = OutcomeOf(s.err)
		s.cancel()
		return false
	}
	s.current = ev
	return true
}

func (s *chanStream) Event() StepEvent {
	return s.current
}

func (s *chanStream) Outcome() Outcome {
	return s.outcome
}

func (s *chanStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.done {
			return
		}
		for range s.events {
		}
	})
	return nil
}

// SliceStream replays a fixed list of events and then ends with err.
func SliceStream(events []StepEvent, err error) Stream {
	return &sliceStream{events: events, err: err, pos: -1}
}

type sliceStream struct {
	events  []StepEvent
	err     error
	pos     int
	outcome Outcome
}

func (s *sliceStream) Next() bool {
	if s.pos+1 >= len(s.events) {
		s.pos = len(s.events)
		s.outcome = OutcomeOf(s.err)
		return false
	}
	s.pos++
	return true
}

func (s *sliceStream) Event() StepEvent {
	if s.pos < 0 || s.pos >= len(s.events) {
		return StepEvent{}
	}
	return s.events[s.pos]
}

func (s *sliceStream) Outcome() Outcome {
	return s.outcome
}

func (s *sliceStream) Close() error {
	return nil
}
