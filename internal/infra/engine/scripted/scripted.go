// Package scripted replays step events from a YAML script. It backs demos,
// local development and end-to-end tests without a model provider.
package scripted

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"taskstream/internal/domain/engine"

	"gopkg.in/yaml.v3"
)

// Step is one scripted event. Exactly one of Tool, Content or Terminal is
// expected; Content may reference the query as {{query}}.
type Step struct {
	Tool     string        `yaml:"tool,omitempty"`
	Content  string        `yaml:"content,omitempty"`
	Terminal bool          `yaml:"terminal,omitempty"`
	Delay    time.Duration `yaml:"delay,omitempty"`
}

// Script is a full replay.
type Script struct {
	Steps []Step `yaml:"steps"`
	// Fail, when set, ends the run with this error after the steps.
	Fail string `yaml:"fail,omitempty"`
	// Delay applies to every step without its own delay.
	Delay time.Duration `yaml:"delay,omitempty"`
}

// DefaultScript echoes the query after a pretend lookup.
func DefaultScript() Script {
	return Script{
		Steps: []Step{
			{Tool: "lookup"},
			{Content: "You asked: {{query}}"},
			{Content: "\n\nThis answer was produced by the scripted engine."},
		},
		Delay: 50 * time.Millisecond,
	}
}

// Parse decodes a YAML script.
func Parse(data []byte) (Script, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return Script{}, fmt.Errorf("parse script: %w", err)
	}
	if len(script.Steps) == 0 && script.Fail == "" {
		return Script{}, errors.New("parse script: no steps")
	}
	return script, nil
}

// Load reads a YAML script from path.
func Load(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}
	return Parse(data)
}

// Engine replays a script for every request.
type Engine struct {
	mu     sync.RWMutex
	script Script
}

// New returns an engine that replays script.
func New(script Script) *Engine {
	return &Engine{script: script}
}

// Start replays the script. Each tool step consumes one unit of the step budget.
func (e *Engine) Start(ctx context.Context, req engine.Request) (engine.Stream, error) {
	return engine.NewStream(ctx, func(ctx context.Context, emit engine.Emit) error {
		return e.replay(ctx, req, emit)
	}), nil
}

// Script returns the script new requests replay.
func (e *Engine) Script() Script {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.script
}

// Replace swaps the script. Runs already started keep the old one.
func (e *Engine) Replace(script Script) {
	e.mu.Lock()
	e.script = script
	e.mu.Unlock()
}

func (e *Engine) replay(ctx context.Context, req engine.Request, emit engine.Emit) error {
	script := e.Script()
	toolSteps := 0
	for _, step := range script.Steps {
		delay := step.Delay
		if delay == 0 {
			delay = script.Delay
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}

		var ev engine.StepEvent
		switch {
		case step.Tool != "":
			if err := req.CheckBudget(toolSteps); err != nil {
				return err
			}
			toolSteps++
			ev = engine.ToolInvocation(step.Tool)
		case step.Terminal:
			ev = engine.Terminal()
		default:
			ev = engine.ContentChunk(strings.ReplaceAll(step.Content, "{{query}}", req.Query))
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	if script.Fail != "" {
		return errors.New(script.Fail)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
