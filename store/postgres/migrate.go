package postgres

import "context"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL DEFAULT '',
		status        SMALLINT NOT NULL DEFAULT 0,
		rank          TEXT NOT NULL DEFAULT '',
		unit          TEXT NOT NULL DEFAULT '',
		corps         TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS mfa_enrollments (
		account_id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
		secret     BYTEA NOT NULL,
		enabled    BOOLEAN NOT NULL DEFAULT FALSE,
		last_step  BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mfa_backup_codes (
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		code_hash  BYTEA NOT NULL,
		used       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (account_id, code_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token_id    TEXT PRIMARY KEY,
		account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		secret_hash BYTEA NOT NULL,
		issued_at   TIMESTAMPTZ NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL,
		revoked     BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_account
		ON refresh_tokens (account_id) WHERE revoked = FALSE`,
	`CREATE TABLE IF NOT EXISTS security_events (
		id          TEXT PRIMARY KEY,
		event_type  TEXT NOT NULL,
		account_id  TEXT NOT NULL DEFAULT '',
		username    TEXT NOT NULL DEFAULT '',
		client_ip   TEXT NOT NULL DEFAULT '',
		success     BOOLEAN NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_account_time
		ON security_events (account_id, occurred_at)`,
}

// Migrate creates the schema. Statements are idempotent, so running it
// on every startup is safe.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storeErr(err)
		}
	}
	return nil
}
