package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetState reads a JSON-serialized state entry. A missing key is reported via
// the boolean, not an error.
func (c *Database) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read state %q: %w", key, err)
	}
	return value, true, nil
}

// SetState upserts a state entry.
func (c *Database) SetState(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	return nil
}

// DeleteState removes a state entry. Deleting a missing key is a no-op.
func (c *Database) DeleteState(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM app_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete state %q: %w", key, err)
	}
	return nil
}

// OrderRow is a locally cached order as the dashboard reads it.
type OrderRow struct {
	ID        string
	Status    string
	RawJSON   string
	UpdatedAt time.Time
}

// UpsertOrder stores an order snapshot fetched from upstream.
func (c *Database) UpsertOrder(ctx context.Context, id, status, rawJSON string) error {
	if rawJSON == "" {
		rawJSON = "{}"
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO orders (id, status, raw_json, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			status = CASE WHEN excluded.status != '' THEN excluded.status ELSE orders.status END,
			raw_json = CASE WHEN excluded.raw_json != '{}' THEN excluded.raw_json ELSE orders.raw_json END,
			updated_at = CURRENT_TIMESTAMP`,
		id, status, rawJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert order %q: %w", id, err)
	}
	return nil
}

// UpdateOrderStatus sets the local status for an order, creating the row when
// the order was never fetched.
func (c *Database) UpdateOrderStatus(ctx context.Context, id, status string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO orders (id, status, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, updated_at = CURRENT_TIMESTAMP`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to update order %q status: %w", id, err)
	}
	return nil
}

// GetOrder fetches a single cached order.
func (c *Database) GetOrder(ctx context.Context, id string) (OrderRow, bool, error) {
	var row OrderRow
	err := c.db.QueryRowContext(ctx,
		`SELECT id, status, raw_json, updated_at FROM orders WHERE id = ?`, id).
		Scan(&row.ID, &row.Status, &row.RawJSON, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return OrderRow{}, false, nil
	}
	if err != nil {
		return OrderRow{}, false, fmt.Errorf("failed to read order %q: %w", id, err)
	}
	return row, true, nil
}

// ListOrders returns cached orders, most recently updated first.
func (c *Database) ListOrders(ctx context.Context, limit int) ([]OrderRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, status, raw_json, updated_at FROM orders ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var row OrderRow
		if err := rows.Scan(&row.ID, &row.Status, &row.RawJSON, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
