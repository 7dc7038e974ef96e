package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KevinKickass/xkop-gateway/internal/state"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SaveRowTable stores rows as a new table and makes it the active one.
func (p *PostgresClient) SaveRowTable(ctx context.Context, name string, rows []state.RowConfig) (*RowTable, error) {
	if rows == nil {
		rows = []state.RowConfig{}
	}
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rows: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE row_tables SET active = false WHERE active`); err != nil {
		return nil, fmt.Errorf("failed to deactivate row tables: %w", err)
	}

	table := &RowTable{ID: uuid.New(), Name: name, Rows: rows, Active: true}
	err = tx.QueryRow(ctx, `
		INSERT INTO row_tables (id, name, rows, active)
		VALUES ($1, $2, $3, true)
		RETURNING created_at
	`, table.ID, name, rowsJSON).Scan(&table.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert row table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit row table: %w", err)
	}
	return table, nil
}

// LoadActiveRowTable returns the active table or ErrNoActiveTable.
func (p *PostgresClient) LoadActiveRowTable(ctx context.Context) (*RowTable, error) {
	var (
		table    RowTable
		rowsJSON []byte
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, rows, active, created_at
		FROM row_tables WHERE active LIMIT 1
	`).Scan(&table.ID, &table.Name, &rowsJSON, &table.Active, &table.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveTable
		}
		return nil, fmt.Errorf("failed to load active row table: %w", err)
	}

	if err := json.Unmarshal(rowsJSON, &table.Rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rows: %w", err)
	}
	return &table, nil
}

// ListRowTables returns saved tables newest first, without their rows.
func (p *PostgresClient) ListRowTables(ctx context.Context) ([]*RowTable, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, active, created_at
		FROM row_tables ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query row tables: %w", err)
	}
	defer rows.Close()

	var tables []*RowTable
	for rows.Next() {
		var t RowTable
		if err := rows.Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row table: %w", err)
		}
		tables = append(tables, &t)
	}
	return tables, rows.Err()
}
