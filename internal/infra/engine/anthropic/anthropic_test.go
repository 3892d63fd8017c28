package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"taskstream/internal/domain/engine"
	"taskstream/internal/infra/engine/history"
	"taskstream/internal/infra/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	name string
	data string
}

type messagesServer struct {
	mu       sync.Mutex
	bodies   []map[string]any
	payloads [][]sseEvent
}

func (s *messagesServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/messages") {
		http.NotFound(w, r)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	s.mu.Lock()
	call := len(s.bodies)
	s.bodies = append(s.bodies, body)
	var events []sseEvent
	if call < len(s.payloads) {
		events = s.payloads[call]
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	for _, ev := range events {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
	}
}

func messageEvents(id, stopReason string, blocks ...[]sseEvent) []sseEvent {
	events := []sseEvent{{"message_start", fmt.Sprintf(`{"type":"message_start","message":{"id":%q,"type":"message","role":"assistant","model":"test","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":1}}}`, id)}}
	for _, block := range blocks {
		events = append(events, block...)
	}
	return append(events,
		sseEvent{"message_delta", fmt.Sprintf(`{"type":"message_delta","delta":{"stop_reason":%q,"stop_sequence":null},"usage":{"output_tokens":7}}`, stopReason)},
		sseEvent{"message_stop", `{"type":"message_stop"}`},
	)
}

func textBlock(index int, parts ...string) []sseEvent {
	events := []sseEvent{{"content_block_start", fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"text","text":""}}`, index)}}
	for _, part := range parts {
		events = append(events, sseEvent{"content_block_delta", fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"text_delta","text":%q}}`, index, part)})
	}
	return append(events, sseEvent{"content_block_stop", fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, index)})
}

func toolBlock(index int, id, name, input string) []sseEvent {
	return []sseEvent{
		{"content_block_start", fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"tool_use","id":%q,"name":%q,"input":{}}}`, index, id, name)},
		{"content_block_delta", fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"input_json_delta","partial_json":%q}}`, index, input)},
		{"content_block_stop", fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, index)},
	}
}

func collect(t *testing.T, eng engine.Engine, req engine.Request) ([]engine.StepEvent, engine.Outcome) {
	t.Helper()
	stream, err := eng.Start(context.Background(), req)
	require.NoError(t, err)
	defer stream.Close()
	var events []engine.StepEvent
	for stream.Next() {
		events = append(events, stream.Event())
	}
	return events, stream.Outcome()
}

func TestToolUseThenAnswer(t *testing.T) {
	srv := &messagesServer{payloads: [][]sseEvent{
		messageEvents("msg_1", "tool_use",
			textBlock(0, "Checking."),
			toolBlock(1, "toolu_1", "current_time", `{"timezone":"UTC"}`),
		),
		messageEvents("msg_2", "end_turn", textBlock(0, "It is ", "noon.")),
	}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	store := history.NewStore(4, 4)
	eng, err := New(Config{APIKey: "key", BaseURL: ts.URL, SystemPrompt: "be brief"},
		tools.NewRegistry(tools.NewClockTool()), store, nil)
	require.NoError(t, err)

	events, outcome := collect(t, eng, engine.Request{Query: "time?", ThreadID: "t", StepBudget: 4})
	require.Equal(t, engine.OutcomeCompleted, outcome.Kind, "%v", outcome.Err)
	assert.Equal(t, []engine.StepEvent{
		engine.ContentChunk("Checking."),
		engine.ToolInvocation("current_time"),
		engine.ContentChunk("It is "),
		engine.ContentChunk("noon."),
	}, events)

	require.Len(t, srv.bodies, 2)
	assert.Equal(t, string(defaultModel), srv.bodies[0]["model"])
	assert.Len(t, srv.bodies[0]["tools"], 1)
	second := srv.bodies[1]["messages"].([]any)
	require.Len(t, second, 3)
	result := second[2].(map[string]any)
	assert.Equal(t, "user", result["role"])
	blocks := result["content"].([]any)
	assert.Equal(t, "tool_result", blocks[0].(map[string]any)["type"])
	assert.Equal(t, "toolu_1", blocks[0].(map[string]any)["tool_use_id"])

	assert.Equal(t, []history.Turn{{Query: "time?", Answer: "Checking.It is noon."}}, store.Turns("t"))
}

func TestStepBudgetExceeded(t *testing.T) {
	loop := messageEvents("msg", "tool_use", toolBlock(0, "toolu", "current_time", `{}`))
	srv := &messagesServer{payloads: [][]sseEvent{loop, loop}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	eng, err := New(Config{APIKey: "key", BaseURL: ts.URL}, tools.NewRegistry(tools.NewClockTool()), nil, nil)
	require.NoError(t, err)

	events, outcome := collect(t, eng, engine.Request{Query: "loop", StepBudget: 1})
	assert.Equal(t, []engine.StepEvent{engine.ToolInvocation("current_time")}, events)
	assert.ErrorIs(t, outcome.Err, engine.ErrStepBudgetExceeded)
}

func TestServerErrorFailsStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer ts.Close()

	eng, err := New(Config{APIKey: "key", BaseURL: ts.URL}, nil, nil, nil)
	require.NoError(t, err)

	events, outcome := collect(t, eng, engine.Request{Query: "q"})
	assert.Empty(t, events)
	assert.Equal(t, engine.OutcomeFailed, outcome.Kind)
	assert.Contains(t, outcome.Err.Error(), "anthropic streaming error")
}
