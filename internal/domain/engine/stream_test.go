package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s Stream) []StepEvent {
	t.Helper()
	var events []StepEvent
	for s.Next() {
		events = append(events, s.Event())
	}
	return events
}

func TestNewStreamDeliversEventsInOrder(t *testing.T) {
	s := NewStream(context.Background(), func(ctx context.Context, emit Emit) error {
		for _, ev := range []StepEvent{ToolInvocation("search"), ContentChunk("a"), ContentChunk("b"), Terminal()} {
			if err := emit(ev); err != nil {
				return err
			}
		}
		return nil
	})
	defer s.Close()

	events := drain(t, s)
	require.Len(t, events, 4)
	assert.Equal(t, KindToolInvocation, events[0].Kind)
	assert.Equal(t, "search", events[0].ToolName)
	assert.Equal(t, "a", events[1].Content)
	assert.Equal(t, "b", events[2].Content)
	assert.Equal(t, KindTerminal, events[3].Kind)
	assert.Equal(t, OutcomeCompleted, s.Outcome().Kind)
	assert.False(t, s.Next(), "exhausted stream stays exhausted")
}

func TestNewStreamClassifiesProducerErrors(t *testing.T) {
	boom := errors.New("model unavailable")
	tests := []struct {
		name string
		err  error
		want OutcomeKind
	}{
		{"failed", boom, OutcomeFailed},
		{"cancelled", context.Canceled, OutcomeCancelled},
		{"wrapped cancel", errors.Join(errors.New("call"), context.Canceled), OutcomeCancelled},
		{"budget", ErrStepBudgetExceeded, OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStream(context.Background(), func(ctx context.Context, emit Emit) error {
				_ = emit(ContentChunk("partial"))
				return tt.err
			})
			defer s.Close()
			assert.Len(t, drain(t, s), 1)
			assert.Equal(t, tt.want, s.Outcome().Kind)
			assert.ErrorIs(t, s.Outcome().Err, tt.err)
		})
	}
}

func TestNewStreamRecoversProducerPanic(t *testing.T) {
	s := NewStream(context.Background(), func(ctx context.Context, emit Emit) error {
		panic("kaboom")
	})
	defer s.Close()
	assert.Empty(t, drain(t, s))
	assert.Equal(t, OutcomeFailed, s.Outcome().Kind)
	assert.Contains(t, s.Outcome().Err.Error(), "kaboom")
}

func TestNewStreamProducerStaysOneEventAhead(t *testing.T) {
	var produced atomic.Int32
	s := NewStream(context.Background(), func(ctx context.Context, emit Emit) error {
		for i := 0; i < 10; i++ {
			produced.Add(1)
			if err := emit(ContentChunk("x")); err != nil {
				return err
			}
		}
		return nil
	})
	defer s.Close()

	require.True(t, s.Next())
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, produced.Load(), int32(2))
}

func TestCloseStopsBlockedProducer(t *testing.T) {
	stopped := make(chan error, 1)
	s := NewStream(context.Background(), func(ctx context.Context, emit Emit) error {
		for {
			if err := emit(ContentChunk("tick")); err != nil {
				stopped <- err
				return err
			}
		}
	})
	require.True(t, s.Next())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("producer did not observe close")
	}
}

func TestParentCancellationEndsStreamAsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStream(ctx, func(ctx context.Context, emit Emit) error {
		<-ctx.Done()
		return ctx.Err()
	})
	defer s.Close()
	cancel()
	assert.Empty(t, drain(t, s))
	assert.Equal(t, OutcomeCancelled, s.Outcome().Kind)
}

func TestProducerActsAsEngine(t *testing.T) {
	var got Request
	var eng Engine = Producer(func(ctx context.Context, req Request, emit Emit) error {
		got = req
		return emit(ContentChunk(req.Query))
	})
	s, err := eng.Start(context.Background(), Request{Query: "hi", ThreadID: "t", StepBudget: 3})
	require.NoError(t, err)
	defer s.Close()

	events := drain(t, s)
	require.Len(t, events, 1)
	assert.Equal(t, "hi", events[0].Content)
	assert.Equal(t, "t", got.ThreadID)
}

func TestCheckBudget(t *testing.T) {
	req := Request{StepBudget: 2}
	assert.NoError(t, req.CheckBudget(0))
	assert.NoError(t, req.CheckBudget(1))
	assert.ErrorIs(t, req.CheckBudget(2), ErrStepBudgetExceeded)
	assert.NoError(t, Request{}.CheckBudget(1000))
}

func TestSliceStream(t *testing.T) {
	s := SliceStream([]StepEvent{ContentChunk("a")}, nil)
	assert.Equal(t, []StepEvent{ContentChunk("a")}, drain(t, s))
	assert.Equal(t, OutcomeCompleted, s.Outcome().Kind)

	failing := SliceStream(nil, errors.New("x"))
	assert.Empty(t, drain(t, failing))
	assert.Equal(t, OutcomeFailed, failing.Outcome().Kind)
}
