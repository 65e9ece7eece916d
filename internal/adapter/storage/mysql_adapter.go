package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/order-stream/internal/core/domain"
	"github.com/rl1809/order-stream/internal/port"
)

// Item names use a binary collation so lookups are case-sensitive.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		name       VARCHAR(191) COLLATE utf8mb4_bin NOT NULL,
		stock      INT          NOT NULL,
		version    INT          NOT NULL DEFAULT 0,
		created_at DATETIME(6)  NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6)  NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		UNIQUE KEY uq_items_name (name)
	) DEFAULT CHARSET = utf8mb4`,
	`CREATE TABLE IF NOT EXISTS orders (
		id           CHAR(36)     NOT NULL PRIMARY KEY,
		display_code VARCHAR(16)  NOT NULL,
		origin       VARCHAR(255) NOT NULL,
		fulfilled    BOOLEAN      NOT NULL DEFAULT FALSE,
		created_at   DATETIME(6)  NOT NULL,
		fulfilled_at DATETIME(6)  NULL,
		KEY idx_orders_code (display_code, fulfilled, created_at)
	) DEFAULT CHARSET = utf8mb4`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		id       CHAR(36) NOT NULL PRIMARY KEY,
		order_id CHAR(36) NOT NULL,
		item_id  CHAR(36) NOT NULL,
		quantity INT      NOT NULL,
		CONSTRAINT fk_lines_order FOREIGN KEY (order_id) REFERENCES orders (id) ON DELETE CASCADE,
		CONSTRAINT fk_lines_item FOREIGN KEY (item_id) REFERENCES items (id)
	) DEFAULT CHARSET = utf8mb4`,
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the tables if they do not exist.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, name, stock FROM items ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Stock); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpsertItem sets the stock of the named item, creating it if needed.
func (m *MySQLAdapter) UpsertItem(ctx context.Context, name string, stock int) (domain.Item, error) {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO items (id, name, stock) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE stock = VALUES(stock), version = version + 1, updated_at = NOW(6)`,
		uuid.NewString(), name, stock,
	)
	if err != nil {
		return domain.Item{}, fmt.Errorf("upsert item: %w", err)
	}

	var it domain.Item
	err = m.db.QueryRowContext(ctx, `SELECT id, name, stock FROM items WHERE name = ?`, name).
		Scan(&it.ID, &it.Name, &it.Stock)
	if err != nil {
		return domain.Item{}, fmt.Errorf("query item: %w", err)
	}
	return it, nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) ResolveItems(ctx context.Context, names []string) (map[string]domain.Item, error) {
	out := make(map[string]domain.Item, len(names))
	if len(names) == 0 {
		return out, nil
	}

	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	query := `SELECT id, name, stock FROM items WHERE name IN (?` + strings.Repeat(`, ?`, len(names)-1) + `)`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Stock); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out[it.Name] = it
	}
	return out, rows.Err()
}

func (t *mysqlTx) InsertOrder(ctx context.Context, order domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, display_code, origin, fulfilled, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		order.ID, order.DisplayCode, order.Origin, order.Fulfilled, order.CreatedAt,
	)
	return err
}

func (t *mysqlTx) InsertLine(ctx context.Context, line domain.OrderLine) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_lines (id, order_id, item_id, quantity)
		VALUES (?, ?, ?, ?)`,
		line.ID, line.OrderID, line.ItemID, line.Quantity,
	)
	return err
}

func (t *mysqlTx) FindUnfulfilled(ctx context.Context, displayCode string) (domain.Order, error) {
	var o domain.Order
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, display_code, origin, fulfilled, created_at
		FROM orders
		WHERE display_code = ? AND fulfilled = FALSE
		ORDER BY created_at, id
		LIMIT 1
		FOR UPDATE`, displayCode,
	).Scan(&o.ID, &o.DisplayCode, &o.Origin, &o.Fulfilled, &o.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

func (t *mysqlTx) MarkFulfilled(ctx context.Context, orderID string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET fulfilled = TRUE, fulfilled_at = ?
		WHERE id = ? AND fulfilled = FALSE`,
		at, orderID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (t *mysqlTx) LineTotals(ctx context.Context, orderID string) (map[string]int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT item_id, SUM(quantity) FROM order_lines
		WHERE order_id = ? GROUP BY item_id`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		totals[itemID] = qty
	}
	return totals, rows.Err()
}

func (t *mysqlTx) AdjustStock(ctx context.Context, itemID string, delta int) (domain.StockLevel, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE items
		SET stock = stock + ?, version = version + 1, updated_at = NOW(6)
		WHERE id = ?`,
		delta, itemID,
	)
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("update stock: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.StockLevel{}, fmt.Errorf("item %s: %w", itemID, ErrUnknownItem)
	}

	level := domain.StockLevel{ItemID: itemID, Delta: delta}
	err = t.tx.QueryRowContext(ctx, `SELECT name, stock FROM items WHERE id = ?`, itemID).
		Scan(&level.Name, &level.Stock)
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("query stock: %w", err)
	}
	return level, nil
}
