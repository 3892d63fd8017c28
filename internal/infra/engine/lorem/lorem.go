// Package lorem streams generated filler text. It exercises the streaming
// path with realistic pacing when no model provider is configured.
package lorem

import (
	"context"
	"strings"
	"sync"
	"time"

	"taskstream/internal/domain/engine"

	loremgen "github.com/bozaro/golorem"
)

// Config controls the generated output.
type Config struct {
	Paragraphs int
	// WordDelay is the pause between streamed words.
	WordDelay time.Duration
	// ToolName, when set, is reported as a tool invocation before the text.
	ToolName string
}

// Engine generates lorem ipsum answers.
type Engine struct {
	mu        sync.Mutex
	generator *loremgen.Lorem
	cfg       Config
}

// New returns a lorem engine.
func New(cfg Config) *Engine {
	if cfg.Paragraphs <= 0 {
		cfg.Paragraphs = 2
	}
	return &Engine{generator: loremgen.New(), cfg: cfg}
}

func (e *Engine) Start(ctx context.Context, req engine.Request) (engine.Stream, error) {
	text := e.generate()
	return engine.NewStream(ctx, func(ctx context.Context, emit engine.Emit) error {
		if e.cfg.ToolName != "" {
			if err := req.CheckBudget(0); err != nil {
				return err
			}
			if err := emit(engine.ToolInvocation(e.cfg.ToolName)); err != nil {
				return err
			}
		}
		for i, word := range strings.SplitAfter(text, " ") {
			if i > 0 && e.cfg.WordDelay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(e.cfg.WordDelay):
				}
			}
			if err := emit(engine.ContentChunk(word)); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

// generate builds the full answer up front; the generator is not safe for
// concurrent use.
func (e *Engine) generate() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	paragraphs := make([]string, 0, e.cfg.Paragraphs)
	for i := 0; i < e.cfg.Paragraphs; i++ {
		paragraphs = append(paragraphs, e.generator.Paragraph(3, 5))
	}
	return strings.Join(paragraphs, "\n\n")
}
