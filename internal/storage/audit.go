package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/xkop-gateway/internal/bridge"
)

// RecordSet journals one SET request.
func (p *PostgresClient) RecordSet(ctx context.Context, ev bridge.SetEvent) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO set_audit (id, oid, function, scn, value, ok, reason, frames, test_mode, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ev.ID, ev.OID, ev.Function, ev.SiteCode, ev.Value, ev.OK, ev.Reason, ev.Frames, ev.TestMode, ev.At)
	if err != nil {
		return fmt.Errorf("failed to insert set audit: %w", err)
	}
	return nil
}

// RecentSets returns up to limit journal entries, newest first.
func (p *PostgresClient) RecentSets(ctx context.Context, limit int) ([]*SetAuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, oid, function, scn, value, ok, reason, frames, test_mode, created_at
		FROM set_audit ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query set audit: %w", err)
	}
	defer rows.Close()

	var entries []*SetAuditEntry
	for rows.Next() {
		var e SetAuditEntry
		if err := rows.Scan(&e.ID, &e.OID, &e.Function, &e.SiteCode, &e.Value,
			&e.OK, &e.Reason, &e.Frames, &e.TestMode, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan set audit: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

var _ bridge.AuditSink = (*PostgresClient)(nil)
