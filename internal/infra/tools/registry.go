// Package tools provides the callable tools exposed to model-backed engines.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// ErrUnknownTool is returned when a model asks for a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is one callable capability.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the arguments object.
	Parameters() map[string]any
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds tools by name.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry registers the given tools. Later tools replace earlier ones
// with the same name.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		if tool != nil {
			r.tools[tool.Name()] = tool
		}
	}
	return r
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the tools sorted by name.
func (r *Registry) List() []Tool {
	if r == nil {
		return nil
	}
	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tools)
}

// Call runs the named tool. Model-produced arguments that are not valid JSON
// are repaired before the call.
func (r *Registry) Call(ctx context.Context, name, rawArgs string) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	args, err := NormalizeArguments(rawArgs)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return tool.Call(ctx, args)
}

// NormalizeArguments returns rawArgs as valid JSON, repairing truncated or
// sloppy model output when needed. Empty input becomes an empty object.
func NormalizeArguments(rawArgs string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(rawArgs)
	if trimmed == "" {
		return json.RawMessage("{}"), nil
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return nil, fmt.Errorf("repair tool arguments: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return nil, fmt.Errorf("repair tool arguments: still invalid")
	}
	return json.RawMessage(repaired), nil
}

// SchemaFor reflects the argument struct A into an inline JSON schema object.
func SchemaFor[A any]() map[string]any {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(new(A))
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// SchemaProperties returns the properties and required lists of a schema
// produced by SchemaFor.
func SchemaProperties(schema map[string]any) (map[string]any, []string) {
	props, _ := schema["properties"].(map[string]any)
	var required []string
	switch v := schema["required"].(type) {
	case []string:
		required = append(required, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				required = append(required, s)
			}
		}
	}
	return props, required
}

func decodeArgs[A any](raw json.RawMessage) (A, error) {
	var args A
	if len(raw) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("decode arguments: %w", err)
	}
	return args, nil
}
