package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"taskstream/internal/domain/frame"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drive feeds the messages produced by cmd back into the model until no
// command is left.
func drive(t *testing.T, m ChatModel, cmd tea.Cmd) ChatModel {
	t.Helper()
	for i := 0; cmd != nil && i < 100; i++ {
		msg := cmd()
		if msg == nil {
			break
		}
		next, nextCmd := m.Update(msg)
		m = next.(ChatModel)
		cmd = nextCmd
	}
	return m
}

func TestChatModelStreamsAnswer(t *testing.T) {
	srv, _ := frameServer(t, frame.Continue("Hello "), frame.Continue("there"))
	m := NewChatModel(context.Background(), NewClient(srv.URL, "", "tui"), "t1")

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = next.(ChatModel)
	m.textarea.SetValue("hi")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(ChatModel)
	assert.Equal(t, stateStreaming, m.state)
	require.NotNil(t, cmd)

	m = drive(t, m, cmd)
	assert.Equal(t, stateIdle, m.state)
	assert.Empty(t, m.current)
	require.Len(t, m.history, 2)
	assert.Contains(t, m.history[0], "> hi")
	assert.Contains(t, m.history[1], "Hello")
	assert.Contains(t, m.View(), "ready")
}

func TestChatModelCtrlCStopsThenQuits(t *testing.T) {
	var stops atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stops.Add(1)
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	m := NewChatModel(context.Background(), NewClient(srv.URL, "", ""), "")
	m.state = stateStreaming

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(ChatModel)
	assert.Equal(t, stateStopping, m.state)
	require.NotNil(t, cmd)
	_, ok := cmd().(stopSentMsg)
	assert.True(t, ok)
	assert.Equal(t, int32(1), stops.Load())

	m.state = stateIdle
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	_, quit := cmd().(tea.QuitMsg)
	assert.True(t, quit)
}

func TestChatModelIgnoresEnterWhileStreaming(t *testing.T) {
	m := NewChatModel(context.Background(), NewClient("http://unused", "", ""), "")
	m.state = stateStreaming
	m.textarea.SetValue("second")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, "second", next.(ChatModel).textarea.Value())
}
