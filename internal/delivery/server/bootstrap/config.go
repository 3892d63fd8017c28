package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taskstream/internal/app/session"
	"taskstream/internal/domain/task"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// TASKSTREAM_ENGINE_KIND for engine.kind.
const EnvPrefix = "TASKSTREAM"

// Config is the service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Auth     AuthConfig     `mapstructure:"auth"`

	// Path is the config file that was read, if any.
	Path string `mapstructure:"-"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       struct {
		RequestsPerMinute int `mapstructure:"requests_per_minute"`
		Burst             int `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
	DisableWebSocket bool `mapstructure:"disable_websocket"`
}

type StreamConfig struct {
	StepBudget      int           `mapstructure:"step_budget"`
	DefaultThreadID string        `mapstructure:"default_thread_id"`
	DuplicatePolicy string        `mapstructure:"duplicate_policy"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	AppTag          string        `mapstructure:"app_tag"`
	Messages        struct {
		Stopped     string `mapstructure:"stopped"`
		ToolInvoked string `mapstructure:"tool_invoked"`
		UnknownTool string `mapstructure:"unknown_tool"`
		Failed      string `mapstructure:"failed"`
	} `mapstructure:"messages"`
}

type EngineConfig struct {
	Kind           string        `mapstructure:"kind"`
	ScriptPath     string        `mapstructure:"script_path"`
	ScriptWatch    bool          `mapstructure:"script_watch"`
	Model          string        `mapstructure:"model"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	SystemPrompt   string        `mapstructure:"system_prompt"`
	MaxTokens      int64         `mapstructure:"max_tokens"`
	HistoryThreads int           `mapstructure:"history_threads"`
	HistoryTurns   int           `mapstructure:"history_turns"`
	LoremParas     int           `mapstructure:"lorem_paragraphs"`
	LoremDelay     time.Duration `mapstructure:"lorem_word_delay"`
}

type ToolsConfig struct {
	Fetch struct {
		Enabled   bool          `mapstructure:"enabled"`
		Timeout   time.Duration `mapstructure:"timeout"`
		MaxChars  int           `mapstructure:"max_chars"`
		CacheSize int           `mapstructure:"cache_size"`
		CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"fetch"`
	Clock bool `mapstructure:"clock"`
}

type RecorderConfig struct {
	Backend     string        `mapstructure:"backend"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CountTokens bool          `mapstructure:"count_tokens"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisStream string        `mapstructure:"redis_stream"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWKSURL   string `mapstructure:"jwks_url"`
	Issuer    string `mapstructure:"issuer"`
	Discover  bool   `mapstructure:"oidc_discovery"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.rate_limit.requests_per_minute", 0)
	v.SetDefault("server.rate_limit.burst", 0)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.disable_websocket", false)

	v.SetDefault("stream.step_budget", session.DefaultStepBudget)
	v.SetDefault("stream.default_thread_id", session.DefaultThreadID)
	v.SetDefault("stream.duplicate_policy", string(task.DuplicateReject))
	v.SetDefault("stream.session_timeout", time.Duration(0))
	v.SetDefault("stream.app_tag", "")
	for _, key := range []string{"stopped", "tool_invoked", "unknown_tool", "failed"} {
		v.SetDefault("stream.messages."+key, "")
	}

	v.SetDefault("engine.kind", "scripted")
	v.SetDefault("engine.script_path", "")
	v.SetDefault("engine.script_watch", false)
	v.SetDefault("engine.model", "")
	v.SetDefault("engine.base_url", "")
	v.SetDefault("engine.system_prompt", "")
	v.SetDefault("engine.max_tokens", 0)
	v.SetDefault("engine.history_threads", 1024)
	v.SetDefault("engine.history_turns", 10)
	v.SetDefault("engine.lorem_paragraphs", 2)
	v.SetDefault("engine.lorem_word_delay", 20*time.Millisecond)

	v.SetDefault("tools.clock", true)
	v.SetDefault("tools.fetch.enabled", true)
	v.SetDefault("tools.fetch.timeout", 15*time.Second)
	v.SetDefault("tools.fetch.max_chars", 8000)
	v.SetDefault("tools.fetch.cache_size", 128)
	v.SetDefault("tools.fetch.cache_ttl", 10*time.Minute)

	v.SetDefault("recorder.backend", "log")
	v.SetDefault("recorder.timeout", session.DefaultRecordTimeout)
	v.SetDefault("recorder.redis_stream", "taskstream:records")
	v.SetDefault("recorder.count_tokens", false)

	// Registered so TASKSTREAM_AUTH_* overrides reach Unmarshal.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.oidc_discovery", false)
}

// NewViper returns a viper instance with defaults, environment binding and
// the legacy PORT and RECURSION_LIMIT aliases.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("stream.step_budget", EnvPrefix+"_STREAM_STEP_BUDGET", "RECURSION_LIMIT")
	_ = v.BindEnv("engine.api_key", EnvPrefix+"_ENGINE_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("recorder.redis_addr", EnvPrefix+"_RECORDER_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("recorder.postgres_dsn", EnvPrefix+"_RECORDER_POSTGRES_DSN", "DATABASE_URL")
	return v
}

// LoadDotEnv loads ./.env when present. Variables already set win.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load(".env")
}

// LoadConfig reads configPath, or searches ./taskstream.yaml and
// $HOME/.taskstream/config.yaml when empty. A missing file is not an error.
func LoadConfig(v *viper.Viper, configPath string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("taskstream")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".taskstream"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(configPath != "" && errors.Is(err, os.ErrNotExist)) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if _, err := task.ParseDuplicatePolicy(c.Stream.DuplicatePolicy); err != nil {
		return err
	}
	if c.Stream.StepBudget < 0 {
		return fmt.Errorf("stream.step_budget must not be negative, got %d", c.Stream.StepBudget)
	}
	switch strings.ToLower(c.Engine.Kind) {
	case "scripted", "lorem":
	case "openai", "anthropic":
		if strings.TrimSpace(c.Engine.APIKey) == "" {
			return fmt.Errorf("engine.api_key is required for the %s engine", c.Engine.Kind)
		}
	default:
		return fmt.Errorf("unknown engine.kind %q", c.Engine.Kind)
	}
	return nil
}

// SessionMessages returns the configured client-facing texts. Empty fields
// keep the session defaults.
func (c StreamConfig) SessionMessages() session.Messages {
	return session.Messages{
		Stopped:     c.Messages.Stopped,
		ToolInvoked: c.Messages.ToolInvoked,
		UnknownTool: c.Messages.UnknownTool,
		Failed:      c.Messages.Failed,
	}
}
