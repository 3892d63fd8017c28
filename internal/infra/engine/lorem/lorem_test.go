package lorem

import (
	"context"
	"strings"
	"testing"
	"time"

	"taskstream/internal/domain/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoremStreamsWordsAfterTool(t *testing.T) {
	eng := New(Config{Paragraphs: 1, ToolName: "lorem_search"})
	stream, err := eng.Start(context.Background(), engine.Request{Query: "q", StepBudget: 3})
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Next())
	assert.Equal(t, engine.ToolInvocation("lorem_search"), stream.Event())

	var text strings.Builder
	chunks := 0
	for stream.Next() {
		ev := stream.Event()
		require.Equal(t, engine.KindContentChunk, ev.Kind)
		text.WriteString(ev.Content)
		chunks++
	}
	assert.Equal(t, engine.OutcomeCompleted, stream.Outcome().Kind)
	assert.Greater(t, chunks, 3)
	assert.NotEmpty(t, strings.TrimSpace(text.String()))
}

func TestLoremHonoursCancellation(t *testing.T) {
	eng := New(Config{Paragraphs: 3, WordDelay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := eng.Start(ctx, engine.Request{Query: "q"})
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Next())
	cancel()
	for stream.Next() {
	}
	assert.Equal(t, engine.OutcomeCancelled, stream.Outcome().Kind)
}
