// Package openai drives the OpenAI Chat Completions streaming API as a step
// engine: every model call is one step, text deltas become content chunks and
// tool calls become tool invocations whose results feed the next call.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskstream/internal/domain/engine"
	"taskstream/internal/infra/engine/history"
	"taskstream/internal/infra/tools"
	"taskstream/internal/shared/logging"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultModel = openai.ChatModelGPT4oMini

// Config configures the engine.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int64
	SystemPrompt string
}

// Engine answers queries with a tool-calling chat model.
type Engine struct {
	client  openai.Client
	cfg     Config
	tools   *tools.Registry
	history *history.Store
	logger  logging.Logger
}

// New builds an engine. registry and store may be nil.
func New(cfg Config, registry *tools.Registry, store *history.Store, logger logging.Logger) (*Engine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Engine{
		client:  openai.NewClient(opts...),
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
		params := openai.ChatCompletionNewParams{
			Model:    e.cfg.Model,
			Messages: messages,
		}
		if len(toolParams) > 0 {
			params.Tools = toolParams
		}
		if e.cfg.MaxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(e.cfg.MaxTokens)
		}

		message, err := e.streamCall(ctx, params, emit, &answer)
		if err != nil {
			return err
		}
		if message == nil || len(message.ToolCalls) == 0 {
			e.history.Append(req.ThreadID, history.Turn{Query: req.Query, Answer: answer.String()})
			return nil
		}

		messages = append(messages, message.ToParam())
		for _, call := range message.ToolCalls {
			if err := emit(engine.ToolInvocation(call.Function.Name)); err != nil {
				return err
			}
			result, callErr := e.tools.Call(ctx, call.Function.Name, call.Function.Arguments)
			if callErr != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn("tool %s failed: %v", call.Function.Name, callErr)
				result = "error: " + callErr.Error()
			}
			messages = append(messages, openai.ToolMessage(result, call.ID))
		}
	}
}

// streamCall performs one model call, forwarding text deltas as they arrive.
func (e *Engine) streamCall(ctx context.Context, params openai.ChatCompletionNewParams, emit engine.Emit, answer *strings.Builder) (*openai.ChatCompletionMessage, error) {
	stream := e.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		for _, choice := range chunk.Choices {
			if choice.Index != 0 || choice.Delta.Content == "" {
				continue
			}
			answer.WriteString(choice.Delta.Content)
			if err := emit(engine.ContentChunk(choice.Delta.Content)); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("openai streaming error: %w", err)
	}
	if len(acc.Choices) == 0 {
		return nil, nil
	}
	message := acc.Choices[0].Message
	return &message, nil
}

func (e *Engine) initialMessages(req engine.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if e.cfg.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(e.cfg.SystemPrompt))
	}
	for _, turn := range e.history.Turns(req.ThreadID) {
		messages = append(messages, openai.UserMessage(turn.Query))
		if turn.Answer != "" {
			messages = append(messages, openai.AssistantMessage(turn.Answer))
		}
	}
	return append(messages, openai.UserMessage(req.Query))
}

func (e *Engine) toolParams() []openai.ChatCompletionToolParam {
	list := e.tools.List()
	if len(list) == 0 {
		return nil
	}
	params := make([]openai.ChatCompletionToolParam, 0, len(list))
	for _, tool := range list {
		params = append(params, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name(),
				Description: openai.String(tool.Description()),
				Parameters:  openai.FunctionParameters(tool.Parameters()),
			},
		})
	}
	return params
}
