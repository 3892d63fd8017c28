package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"taskstream/internal/domain/transcript"

	"github.com/jackc/pgx/v5/pgxpool"
)

const recordsTable = "conversation_records"

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	DSN string
}

// Postgres stores records in the conversation_records table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects and creates the table when missing.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres recorder: dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	store := NewPostgresWithPool(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresWithPool uses an existing pool.
func NewPostgresWithPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the records table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return fmt.Errorf("postgres recorder not initialized")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    record_id TEXT PRIMARY KEY,
    thread_id TEXT NOT NULL,
    query TEXT NOT NULL,
    answer TEXT NOT NULL,
    chunks JSONB NOT NULL DEFAULT '[]'::jsonb,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    app_tag TEXT NOT NULL,
    caller_id TEXT NOT NULL,
    attachments JSONB,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_records_thread ON %s (thread_id, created_at);
`, recordsTable, recordsTable)
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", recordsTable, err)
	}
	return nil
}

func (p *Postgres) Record(ctx context.Context, rec transcript.Record) error {
	chunks := rec.Chunks
	if chunks == nil {
		chunks = []string{}
	}
	chunksJSON, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var attachmentsJSON []byte
	if len(rec.Attachments) > 0 {
		if attachmentsJSON, err = json.Marshal(rec.Attachments); err != nil {
			return fmt.Errorf("marshal attachments: %w", err)
		}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (record_id, thread_id, query, answer, chunks, metadata, app_tag, caller_id, attachments, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (record_id) DO NOTHING`, recordsTable)
	_, err = p.pool.Exec(ctx, query,
		rec.RecordID, rec.ThreadID, rec.Query, rec.Answer(),
		chunksJSON, metadataJSON, rec.AppTag, rec.CallerID, attachmentsJSON, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.RecordID, err)
	}
	return nil
}

// Answer returns the stored answer for recordID.
func (p *Postgres) Answer(ctx context.Context, recordID string) (string, error) {
	var answer string
	err := p.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT answer FROM %s WHERE record_id = $1`, recordsTable), recordID,
	).Scan(&answer)
	if err != nil {
		return "", fmt.Errorf("load record %s: %w", recordID, err)
	}
	return answer, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
