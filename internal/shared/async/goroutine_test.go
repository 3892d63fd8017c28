package async

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPanicLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *stubPanicLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

func (l *stubPanicLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range l.messages {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func TestGoRecoversPanic(t *testing.T) {
	logger := &stubPanicLogger{}
	done := make(chan struct{})

	Go(logger, "recorder", func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for goroutine")
	}

	require.Eventually(t, func() bool {
		return logger.contains("goroutine panic [recorder]: boom")
	}, time.Second, 10*time.Millisecond)
}

func TestRecoverHandlesNilLogger(t *testing.T) {
	var typed *stubPanicLogger
	assert.NotPanics(t, func() {
		defer Recover(nil, "nil-logger")
		panic("boom")
	})
	assert.NotPanics(t, func() {
		defer Recover(typed, "typed-nil")
		panic("boom")
	})
}

func TestRecoverWithReportsValue(t *testing.T) {
	logger := &stubPanicLogger{}
	var got any

	func() {
		defer RecoverWith(logger, "", func(r any) { got = r })
		panic("engine exploded")
	}()

	assert.Equal(t, "engine exploded", got)
	assert.True(t, logger.contains("goroutine panic: engine exploded"))
}

func TestRecoverWithNoPanicSkipsCallback(t *testing.T) {
	called := false
	func() {
		defer RecoverWith(nil, "quiet", func(any) { called = true })
	}()
	assert.False(t, called)
}
