package port

import (
	"context"
	"time"

	"github.com/rl1809/order-stream/internal/core/domain"
)

// Store holds the catalog and the ledger. All writes go through WithinTx so
// an order and its lines, or a fulfillment and its stock adjustments, commit
// or roll back together.
type Store interface {
	// WithinTx runs fn in a transaction, committing when fn returns nil
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// ListItems returns the whole catalog ordered by name
	ListItems(ctx context.Context) ([]domain.Item, error)
}

type LedgerTx interface {
	// ResolveItems looks up items by exact name in one batch; names with no
	// match are absent from the result
	ResolveItems(ctx context.Context, names []string) (map[string]domain.Item, error)

	InsertOrder(ctx context.Context, order domain.Order) error
	InsertLine(ctx context.Context, line domain.OrderLine) error

	// FindUnfulfilled returns the oldest unfulfilled order with the display
	// code, or domain.ErrOrderNotFound
	FindUnfulfilled(ctx context.Context, displayCode string) (domain.Order, error)

	// MarkFulfilled flips the order to fulfilled, or returns
	// domain.ErrOrderNotFound if it already was
	MarkFulfilled(ctx context.Context, orderID string, at time.Time) error

	// LineTotals sums line quantities per distinct item of the order
	LineTotals(ctx context.Context, orderID string) (map[string]int, error)

	// AdjustStock adds delta to the item's stock and returns the new level
	AdjustStock(ctx context.Context, itemID string, delta int) (domain.StockLevel, error)
}
