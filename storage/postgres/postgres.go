// Package postgres persists cookie records and browser profiles with pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS cookie_records (
	id                TEXT PRIMARY KEY,
	platform          TEXT NOT NULL,
	tier              TEXT NOT NULL,
	value             TEXT NOT NULL,
	label             TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	use_count         BIGINT NOT NULL DEFAULT 0,
	success_count     BIGINT NOT NULL DEFAULT 0,
	error_count       INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT NOT NULL DEFAULT '',
	cooldown_until    TIMESTAMPTZ,
	max_uses_per_hour INTEGER NOT NULL DEFAULT 0,
	hourly_uses       INTEGER NOT NULL DEFAULT 0,
	hour_started_at   TIMESTAMPTZ,
	enabled           BOOLEAN NOT NULL DEFAULT TRUE,
	last_used_at      TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	version           BIGINT NOT NULL DEFAULT 0
);
ALTER TABLE cookie_records ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS cookie_records_platform_idx ON cookie_records (platform, created_at);

CREATE TABLE IF NOT EXISTS browser_profiles (
	id                    TEXT PRIMARY KEY,
	platform_scope        TEXT NOT NULL DEFAULT 'all',
	user_agent            TEXT NOT NULL,
	client_hints          TEXT NOT NULL DEFAULT '',
	client_hints_mobile   TEXT NOT NULL DEFAULT '',
	client_hints_platform TEXT NOT NULL DEFAULT '',
	accept_language       TEXT NOT NULL DEFAULT '',
	is_chromium           BOOLEAN NOT NULL DEFAULT FALSE,
	priority              INTEGER NOT NULL DEFAULT 1 CHECK (priority >= 0),
	use_count             BIGINT NOT NULL DEFAULT 0,
	last_used_at          TIMESTAMPTZ,
	enabled               BOOLEAN NOT NULL DEFAULT TRUE
);
`

// Connect opens a pool on connStr, verifies it and applies the schema.
func Connect(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: unable to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables if they do not exist. It is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNull(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
