// Package anthropic drives the Anthropic Messages streaming API as a step
// engine. Each model call is one step; tool_use blocks are executed through
// the tool registry and their results sent back on the next call.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskstream/internal/domain/engine"
	"taskstream/internal/infra/engine/history"
	"taskstream/internal/infra/tools"
	"taskstream/internal/shared/logging"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModel     = anthropic.ModelClaude3_5HaikuLatest
	defaultMaxTokens = 1024
)

// Config configures the engine.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int64
	SystemPrompt string
}

// Engine answers queries with Claude, calling registered tools as requested.
type Engine struct {
	client  anthropic.Client
	cfg     Config
	tools   *tools.Registry
	history *history.Store
	logger  logging.Logger
}

// New builds an engine. registry and store may be nil.
func New(cfg Config, registry *tools.Registry, store *history.Store, logger logging.Logger) (*Engine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(defaultModel)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Engine{
		client:  anthropic.NewClient(opts...),
		cfg:     cfg,
		tools:   registry,
		history: store,
		logger:  logging.OrNop(logger),
	}, nil
}

func (e *Engine) Start(ctx context.Context, req engine.Request) (engine.Stream, error) {
	return engine.NewStream(ctx, func(ctx context.Context, emit engine.Emit) error {
		return e.run(ctx, req, emit)
	}), nil
}

func (e *Engine) run(ctx context.Context, req engine.Request, emit engine.Emit) error {
	logger := logging.FromContext(ctx, e.logger)
	messages := e.initialMessages(req)
	toolParams := e.toolParams()
	var answer strings.Builder

	for step := 0; ; step++ {
		if err := req.CheckBudget(step); err != nil {
			return err
		}
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(e.cfg.Model),
			MaxTokens: e.cfg.MaxTokens,
			Messages:  messages,
			Tools:     toolParams,
		}
		if e.cfg.SystemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: e.cfg.SystemPrompt}}
		}

		message, err := e.streamCall(ctx, params, emit, &answer)
		if err != nil {
			return err
		}

		var results []anthropic.ContentBlockParamUnion
		for _, block := range message.Content {
			if block.Type != "tool_use" {
				continue
			}
			if err := emit(engine.ToolInvocation(block.Name)); err != nil {
				return err
			}
			result, callErr := e.tools.Call(ctx, block.Name, string(block.Input))
			if callErr != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn("tool %s failed: %v", block.Name, callErr)
				result = "error: " + callErr.Error()
			}
			results = append(results, anthropic.NewToolResultBlock(block.ID, result, callErr != nil))
		}
		if len(results) == 0 {
			e.history.Append(req.ThreadID, history.Turn{Query: req.Query, Answer: answer.String()})
			return nil
		}
		messages = append(messages, message.ToParam(), anthropic.NewUserMessage(results...))
	}
}

// streamCall performs one model call, forwarding text deltas as they arrive.
func (e *Engine) streamCall(ctx context.Context, params anthropic.MessageNewParams, emit engine.Emit, answer *strings.Builder) (anthropic.Message, error) {
	stream := e.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return message, fmt.Errorf("anthropic accumulate: %w", err)
		}
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok || delta.Delta.Type != "text_delta" || delta.Delta.Text == "" {
			continue
		}
		answer.WriteString(delta.Delta.Text)
		if err := emit(engine.ContentChunk(delta.Delta.Text)); err != nil {
			return message, err
		}
	}
	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return message, ctxErr
		}
		return message, fmt.Errorf("anthropic streaming error: %w", err)
	}
	return message, nil
}

func (e *Engine) initialMessages(req engine.Request) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, turn := range e.history.Turns(req.ThreadID) {
		if turn.Answer == "" {
			continue
		}
		messages = append(messages,
			anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Query)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Answer)),
		)
	}
	return append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Query)))
}

func (e *Engine) toolParams() []anthropic.ToolUnionParam {
	list := e.tools.List()
	if len(list) == 0 {
		return nil
	}
	params := make([]anthropic.ToolUnionParam, 0, len(list))
	for _, tool := range list {
		properties, required := tools.SchemaProperties(tool.Parameters())
		param := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: properties,
			Required:   required,
		}, tool.Name())
		param.OfTool.Description = anthropic.String(tool.Description())
		params = append(params, param)
	}
	return params
}
