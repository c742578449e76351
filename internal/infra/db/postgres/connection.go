package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// NewPgxPool connects a pgx pool with a bounded size.
func NewPgxPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the pipeline tables. Idempotent; run at startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id           UUID PRIMARY KEY,
    message_id   TEXT NOT NULL,
    stage        TEXT NOT NULL,
    status       TEXT NOT NULL,
    attempt      INT NOT NULL DEFAULT 0,
    max_attempts INT NOT NULL DEFAULT 3,
    payload      JSONB NOT NULL,
    last_error   TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);

-- One live pipeline per message id: this index is what makes ingestion
-- idempotent under concurrent duplicate webhook deliveries.
CREATE UNIQUE INDEX IF NOT EXISTS jobs_live_message_idx
    ON jobs (message_id)
    WHERE status IN ('active', 'awaiting_clarification');

CREATE TABLE IF NOT EXISTS dlq_entries (
    id         TEXT PRIMARY KEY,
    job_id     UUID NOT NULL UNIQUE,
    message_id TEXT NOT NULL,
    stage      TEXT NOT NULL,
    attempt    INT NOT NULL,
    job        JSONB NOT NULL,
    cause      TEXT NOT NULL,
    failed_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS dlq_entries_failed_at_idx ON dlq_entries (failed_at);
`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
