package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskstream/internal/domain/transcript"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis stream backend. Defaults can be loaded
// from the environment with RedisConfigFromEnv.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
	Stream   string `env:"TASKSTREAM_RECORDER_STREAM,default=taskstream:records"`
	// MaxLen caps the stream approximately; zero keeps everything.
	MaxLen int64 `env:"TASKSTREAM_RECORDER_STREAM_MAXLEN,default=10000"`
}

// RedisConfigFromEnv fills a RedisConfig from the environment.
func RedisConfigFromEnv() RedisConfig {
	var cfg RedisConfig
	_ = envdecode.Decode(&cfg)
	return cfg
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.Stream == "" {
		c.Stream = "taskstream:records"
	}
	return c
}

// Redis appends each record to a Redis stream.
type Redis struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	cfg = cfg.withDefaults()
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisWithClient(client, cfg.Stream, cfg.MaxLen), nil
}

// NewRedisWithClient uses an existing client.
func NewRedisWithClient(client *redis.Client, stream string, maxLen int64) *Redis {
	if stream == "" {
		stream = "taskstream:records"
	}
	return &Redis{client: client, stream: stream, maxLen: maxLen}
}

func (r *Redis) Record(ctx context.Context, rec transcript.Record) error {
	values, err := streamValues(rec)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: r.stream, Values: values}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd %s: %w", r.stream, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }

func streamValues(rec transcript.Record) (map[string]any, error) {
	chunks, err := json.Marshal(rec.Chunks)
	if err != nil {
		return nil, fmt.Errorf("marshal chunks: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	attachments, err := json.Marshal(rec.Attachments)
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}
	return map[string]any{
		"record_id":   rec.RecordID,
		"thread_id":   rec.ThreadID,
		"query":       rec.Query,
		"answer":      rec.Answer(),
		"chunks":      string(chunks),
		"metadata":    string(metadata),
		"app_tag":     rec.AppTag,
		"caller_id":   rec.CallerID,
		"attachments": string(attachments),
		"created_at":  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}
