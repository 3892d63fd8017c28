package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"taskstream/internal/domain/engine"
	"taskstream/internal/domain/task"
	"taskstream/internal/infra/auth"
	anthropicengine "taskstream/internal/infra/engine/anthropic"
	"taskstream/internal/infra/engine/history"
	"taskstream/internal/infra/engine/lorem"
	openaiengine "taskstream/internal/infra/engine/openai"
	"taskstream/internal/infra/engine/scripted"
	"taskstream/internal/infra/observability"
	"taskstream/internal/infra/recorder"
	"taskstream/internal/infra/tools"
	"taskstream/internal/shared/logging"
)

// Container holds the components shared by every session.
type Container struct {
	Registry     *task.Registry
	Engine       engine.Engine
	Recorder     recorder.Backend
	// RecorderName is the backend actually in use after any fallback.
	RecorderName string
	Auth         *auth.Authenticator
	Obs          *observability.Observability
	Degraded     *DegradedComponents
}

// Close releases held resources.
func (c *Container) Close() error {
	if c == nil || c.Recorder == nil {
		return nil
	}
	return c.Recorder.Close()
}

// BuildContainer runs the startup stages. The engine, registry and auth are
// required; a recorder that cannot connect falls back to logging.
func BuildContainer(ctx context.Context, cfg Config, obs *observability.Observability, logger logging.Logger) (*Container, error) {
	logger = logging.OrNop(logger)
	c := &Container{Obs: obs, Degraded: NewDegradedComponents()}

	stages := []BootstrapStage{
		{
			Name:     "registry",
			Required: true,
			Init: func(context.Context) error {
				policy, err := task.ParseDuplicatePolicy(cfg.Stream.DuplicatePolicy)
				if err != nil {
					return err
				}
				c.Registry = task.NewRegistry(task.WithDuplicatePolicy(policy))
				return nil
			},
		},
		{
			Name:     "engine",
			Required: true,
			Init: func(ctx context.Context) error {
				eng, err := BuildEngine(cfg.Engine, cfg.Tools, logger)
				if err != nil {
					return err
				}
				if replay, ok := eng.(*scripted.Engine); ok && cfg.Engine.ScriptWatch && cfg.Engine.ScriptPath != "" {
					if _, err := scripted.Watch(ctx, cfg.Engine.ScriptPath, replay, logger); err != nil {
						logger.Warn("[Bootstrap] Script watch disabled: %v", err)
					}
				}
				c.Engine = observability.NewInstrumentedEngine(strings.ToLower(cfg.Engine.Kind), eng, obs)
				return nil
			},
		},
		{
			Name:     "auth",
			Required: true,
			Init: func(ctx context.Context) error {
				a, err := auth.New(ctx, auth.Config{
					JWTSecret: cfg.Auth.JWTSecret,
					JWKSURL:   cfg.Auth.JWKSURL,
					Issuer:    cfg.Auth.Issuer,
					Discover:  cfg.Auth.Discover,
				})
				if err != nil {
					return err
				}
				c.Auth = a
				return nil
			},
		},
		{
			Name: "recorder",
			Init: func(ctx context.Context) error {
				backend, err := recorder.Open(ctx, recorderConfig(cfg.Recorder), logger)
				if err != nil {
					return err
				}
				c.Recorder = backend
				c.RecorderName = cfg.Recorder.Backend
				return nil
			},
			Fallback: func() {
				c.Recorder = recorder.NewLog(logger)
				c.RecorderName = recorder.BackendLog
			},
		},
	}

	if err := RunStages(ctx, stages, c.Degraded, logger); err != nil {
		return nil, err
	}
	if !c.Degraded.IsEmpty() {
		logger.Warn("[Bootstrap] Degraded components: %s", c.Degraded)
	}
	return c, nil
}

// BuildEngine returns the engine selected by cfg.Kind.
func BuildEngine(cfg EngineConfig, toolsCfg ToolsConfig, logger logging.Logger) (engine.Engine, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "scripted":
		if cfg.ScriptPath == "" {
			return scripted.New(scripted.DefaultScript()), nil
		}
		script, err := scripted.Load(cfg.ScriptPath)
		if err != nil {
			return nil, err
		}
		return scripted.New(script), nil
	case "lorem":
		return lorem.New(lorem.Config{
			Paragraphs: cfg.LoremParas,
			WordDelay:  cfg.LoremDelay,
			ToolName:   "lorem_ipsum",
		}), nil
	case "openai":
		registry, err := BuildTools(toolsCfg)
		if err != nil {
			return nil, err
		}
		return openaiengine.New(openaiengine.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			SystemPrompt: cfg.SystemPrompt,
		}, registry, history.NewStore(cfg.HistoryThreads, cfg.HistoryTurns), logger)
	case "anthropic":
		registry, err := BuildTools(toolsCfg)
		if err != nil {
			return nil, err
		}
		return anthropicengine.New(anthropicengine.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			SystemPrompt: cfg.SystemPrompt,
		}, registry, history.NewStore(cfg.HistoryThreads, cfg.HistoryTurns), logger)
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}
}

// BuildTools registers the enabled tools.
func BuildTools(cfg ToolsConfig) (*tools.Registry, error) {
	var enabled []tools.Tool
	if cfg.Clock {
		enabled = append(enabled, tools.NewClockTool())
	}
	if cfg.Fetch.Enabled {
		fetch, err := tools.NewFetchTool(tools.FetchConfig{
			Timeout:   cfg.Fetch.Timeout,
			MaxChars:  cfg.Fetch.MaxChars,
			CacheSize: cfg.Fetch.CacheSize,
			CacheTTL:  cfg.Fetch.CacheTTL,
			UserAgent: "taskstream/" + Version,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch tool: %w", err)
		}
		enabled = append(enabled, fetch)
	}
	return tools.NewRegistry(enabled...), nil
}

func recorderConfig(cfg RecorderConfig) recorder.Config {
	redisCfg := recorder.RedisConfigFromEnv()
	if cfg.RedisAddr != "" {
		redisCfg.Addr = cfg.RedisAddr
	}
	if cfg.RedisStream != "" {
		redisCfg.Stream = cfg.RedisStream
	}
	return recorder.Config{
		Backend:     cfg.Backend,
		CountTokens: cfg.CountTokens,
		Redis:       redisCfg,
		Postgres:    recorder.PostgresConfig{DSN: cfg.PostgresDSN},
	}
}
