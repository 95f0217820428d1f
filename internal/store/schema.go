package store

// schemaStatements creates the tables described in spec.md §6. Run in
// order at startup (and by the `migrate` CLI subcommand); idempotent via
// IF NOT EXISTS so repeated runs are safe.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`,

	`CREATE TABLE IF NOT EXISTS users (
		id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		username          TEXT NOT NULL UNIQUE,
		password_verifier TEXT NOT NULL,
		active            BOOLEAN NOT NULL DEFAULT TRUE,
		max_connections   INTEGER NOT NULL DEFAULT 3,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id             UUID PRIMARY KEY,
		user_id        UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		assigned_ip    INET NOT NULL UNIQUE,
		peer_address   TEXT NOT NULL,
		platform       TEXT NOT NULL,
		client_version TEXT NOT NULL,
		connected_at   TIMESTAMPTZ NOT NULL,
		last_activity  TIMESTAMPTZ NOT NULL,
		bytes_sent     BIGINT NOT NULL DEFAULT 0,
		bytes_received BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id)`,

	`CREATE TABLE IF NOT EXISTS connection_logs (
		id           UUID PRIMARY KEY,
		user_id      UUID REFERENCES users(id) ON DELETE SET NULL,
		event_type   TEXT NOT NULL CHECK (event_type IN ('connect', 'disconnect', 'auth_fail', 'error')),
		peer_address TEXT NOT NULL,
		platform     TEXT NOT NULL DEFAULT '',
		details      TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_connection_logs_user_id ON connection_logs (user_id)`,
}
