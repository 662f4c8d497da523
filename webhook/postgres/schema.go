package postgres

import (
	"context"
	"fmt"
)

// Schema is the DDL the repository expects
const Schema = `
	CREATE TABLE IF NOT EXISTS webhooks (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		url TEXT NOT NULL,
		secret TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		headers JSONB NOT NULL DEFAULT '{}',
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_success_at TIMESTAMPTZ,
		last_failure_at TIMESTAMPTZ,
		last_triggered_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id TEXT PRIMARY KEY,
		webhook_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		request_body BYTEA NOT NULL,
		attempt_number INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL,
		response_status INTEGER NOT NULL DEFAULT 0,
		response_headers JSONB NOT NULL DEFAULT '{}',
		response_body TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		next_retry_at TIMESTAMPTZ,
		resolved_at TIMESTAMPTZ,
		claimed_until TIMESTAMPTZ,
		claim_token TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due
		ON webhook_deliveries (next_retry_at)
		WHERE status IN ('pending', 'retrying');

	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_dlq
		ON webhook_deliveries (org_id, resolved_at)
		WHERE status = 'dlq';

	CREATE TABLE IF NOT EXISTS integration_retry_config (
		org_id TEXT PRIMARY KEY,
		max_retries INTEGER NOT NULL,
		strategy TEXT NOT NULL,
		base_delay_seconds INTEGER NOT NULL,
		max_delay_seconds INTEGER NOT NULL,
		jitter BOOLEAN NOT NULL DEFAULT TRUE,
		dead_letter BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS scheduler_heartbeats (
		worker_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		last_heartbeat TIMESTAMPTZ NOT NULL
	);
`

// CreateSchema creates the tables and indexes if they do not exist
func (r *Repository) CreateSchema(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// DropSchema removes every table (useful for tests)
func (r *Repository) DropSchema(ctx context.Context) error {
	query := "DROP TABLE IF EXISTS webhook_deliveries, webhooks, integration_retry_config, scheduler_heartbeats CASCADE"

	if _, err := r.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("dropping schema: %w", err)
	}
	return nil
}
