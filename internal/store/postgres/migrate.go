package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup. Column types mirror the entity
// fields; branch uniqueness is enforced here as the last line of defense
// behind the provider-level ref conflict.
const schema = `
CREATE TABLE IF NOT EXISTS github_accounts (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	token         TEXT NOT NULL,
	repo_owner    TEXT NOT NULL,
	repo_name     TEXT NOT NULL,
	workflow_file TEXT NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	last_used     TIMESTAMPTZ,
	queue_length  INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS deployments (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	name             TEXT NOT NULL,
	branch           TEXT NOT NULL UNIQUE,
	account_id       TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	cost             BIGINT NOT NULL DEFAULT 0,
	last_charge_date TIMESTAMPTZ,
	next_charge_date TIMESTAMPTZ,
	config           JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deployments_user_id ON deployments (user_id);
CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments (status);

CREATE TABLE IF NOT EXISTS deployment_variables (
	id            TEXT PRIMARY KEY,
	deployment_id TEXT NOT NULL,
	key           TEXT NOT NULL,
	value         TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (deployment_id, key)
);

CREATE TABLE IF NOT EXISTS transactions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	amount      BIGINT NOT NULL,
	type        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	related_id  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions (user_id);

CREATE TABLE IF NOT EXISTS wallets (
	user_id    TEXT PRIMARY KEY,
	balance    BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Migrate applies the database schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Migrate applies the schema on the store's connection.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db)
}
