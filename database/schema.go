package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS competitions (
		id         TEXT PRIMARY KEY,
		version    BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS registrations (
		competition TEXT NOT NULL REFERENCES competitions (id),
		id          TEXT NOT NULL,
		email       TEXT NOT NULL DEFAULT '',
		name        TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (competition, id)
	)`,
	`CREATE INDEX IF NOT EXISTS registrations_email_idx ON registrations (competition, lower(email))`,
	`CREATE TABLE IF NOT EXISTS results (
		competition     TEXT NOT NULL REFERENCES competitions (id),
		registration_id TEXT NOT NULL,
		score           NUMERIC(7, 3),
		percentile      NUMERIC(7, 3),
		rank            INTEGER,
		category        TEXT,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (competition, registration_id)
	)`,
	`CREATE TABLE IF NOT EXISTS publication_batches (
		seq          BIGSERIAL UNIQUE,
		id           TEXT PRIMARY KEY,
		competition  TEXT NOT NULL REFERENCES competitions (id),
		kind         TEXT NOT NULL CHECK (kind IN ('publish', 'reversal')),
		reverses     TEXT REFERENCES publication_batches (id),
		row_count    INTEGER NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		publisher    TEXT NOT NULL,
		record_ids   TEXT[] NOT NULL DEFAULT '{}',
		base_version BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS publication_batches_reverses_key ON publication_batches (reverses) WHERE reverses IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS publication_batches_competition_idx ON publication_batches (competition, seq)`,
	`CREATE TABLE IF NOT EXISTS batch_changes (
		batch_id        TEXT NOT NULL REFERENCES publication_batches (id),
		position        INTEGER NOT NULL,
		registration_id TEXT NOT NULL,
		action          TEXT NOT NULL CHECK (action IN ('insert', 'update', 'delete')),
		before          JSONB,
		after           JSONB,
		PRIMARY KEY (batch_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS admin_users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL DEFAULT 'admin',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates any missing tables. It is safe to run on every start.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
