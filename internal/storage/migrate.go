package storage

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS row_tables (
		id         UUID PRIMARY KEY,
		name       TEXT NOT NULL,
		rows       JSONB NOT NULL,
		active     BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS row_tables_one_active
		ON row_tables (active) WHERE active`,
	`CREATE TABLE IF NOT EXISTS set_audit (
		id         UUID PRIMARY KEY,
		oid        TEXT NOT NULL,
		function   TEXT NOT NULL DEFAULT '',
		scn        TEXT NOT NULL DEFAULT '',
		value      TEXT NOT NULL DEFAULT '',
		ok         BOOLEAN NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		frames     INTEGER NOT NULL DEFAULT 0,
		test_mode  BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS set_audit_created_at ON set_audit (created_at DESC)`,
}

// Migrate creates the gateway tables if they do not exist.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	return tx.Commit(ctx)
}
