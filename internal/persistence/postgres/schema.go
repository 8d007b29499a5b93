package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the authoritative DDL for the outbox table.
const Schema = `
CREATE TABLE IF NOT EXISTS outbox_messages (
    id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    aggregate_id      VARCHAR(255) NOT NULL,
    aggregate_type    VARCHAR(255) NOT NULL,
    event_type        VARCHAR(255) NOT NULL,
    payload           TEXT NOT NULL,
    changed_fields    TEXT,
    status            VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_at      TIMESTAMPTZ,
    retry_count       INTEGER NOT NULL DEFAULT 0,
    max_retries       INTEGER NOT NULL DEFAULT 3,
    error_message     TEXT,
    worker_id         VARCHAR(255),
    version           BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_outbox_status_created ON outbox_messages (status, created_at);
CREATE INDEX IF NOT EXISTS idx_outbox_aggregate_id ON outbox_messages (aggregate_id);
CREATE INDEX IF NOT EXISTS idx_outbox_event_type ON outbox_messages (event_type);
CREATE INDEX IF NOT EXISTS idx_outbox_worker_id ON outbox_messages (worker_id) WHERE worker_id IS NOT NULL;
`

// EnsureSchema applies the outbox DDL. Statements are idempotent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
