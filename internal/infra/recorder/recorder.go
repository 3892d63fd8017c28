// Package recorder persists finished conversation turns.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"taskstream/internal/domain/transcript"
	"taskstream/internal/shared/logging"
	tokenutil "taskstream/internal/shared/token"
)

// Backend names accepted by Open.
const (
	BackendLog      = "log"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// MetadataTokens is the metadata key WithTokenCount writes.
const MetadataTokens = "tokens"

// Backend is a recorder that holds resources.
type Backend interface {
	transcript.Recorder
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend     string
	CountTokens bool
	Redis       RedisConfig
	Postgres    PostgresConfig
}

// Open builds the configured backend. Redis and Postgres backends are
// verified before returning.
func Open(ctx context.Context, cfg Config, logger logging.Logger) (Backend, error) {
	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLog:
		backend = NewLog(logger)
	case BackendNone:
		backend = None{}
	case BackendRedis:
		backend, err = NewRedis(ctx, cfg.Redis)
	case BackendPostgres:
		backend, err = NewPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown recorder backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CountTokens {
		backend = withCloser{Recorder: WithTokenCount(backend), closer: backend}
	}
	return backend, nil
}

type withCloser struct {
	transcript.Recorder
	closer interface{ Close() error }
}

func (w withCloser) Close() error { return w.closer.Close() }

// None discards records.
type None struct{}

func (None) Record(context.Context, transcript.Record) error { return nil }

func (None) Close() error { return nil }

// Log writes a one-line summary of each record.
type Log struct {
	logger logging.Logger
}

// NewLog logs through logger, or a "Recorder" component logger when nil.
func NewLog(logger logging.Logger) *Log {
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("Recorder")
	}
	return &Log{logger: logger}
}

func (l *Log) Record(ctx context.Context, rec transcript.Record) error {
	logging.FromContext(ctx, l.logger).Info(
		"record %s thread=%s caller=%s app=%s chunks=%d answer_chars=%d attachments=%d",
		rec.RecordID, rec.ThreadID, rec.CallerID, rec.AppTag, len(rec.Chunks), len(rec.Answer()), len(rec.Attachments),
	)
	return nil
}

func (l *Log) Close() error { return nil }

// Multi hands each record to every recorder and joins their errors.
func Multi(recorders ...transcript.Recorder) transcript.Recorder {
	flat := make([]transcript.Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			flat = append(flat, r)
		}
	}
	return transcript.RecorderFunc(func(ctx context.Context, rec transcript.Record) error {
		var errs []error
		for _, r := range flat {
			if err := r.Record(ctx, rec); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// WithTokenCount sets metadata["tokens"] to the answer's token count before
// delegating. The caller's metadata map is not modified.
func WithTokenCount(next transcript.Recorder) transcript.Recorder {
	return transcript.RecorderFunc(func(ctx context.Context, rec transcript.Record) error {
		metadata := make(map[string]string, len(rec.Metadata)+1)
		for k, v := range rec.Metadata {
			metadata[k] = v
		}
		metadata[MetadataTokens] = strconv.Itoa(tokenutil.CountTokens(rec.Answer()))
		rec.Metadata = metadata
		return next.Record(ctx, rec)
	})
}
