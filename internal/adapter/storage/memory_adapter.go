package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/order-stream/internal/core/domain"
	"github.com/rl1809/order-stream/internal/port"
)

var (
	ErrUnknownOrder = errors.New("unknown order")
	ErrUnknownItem  = errors.New("unknown item")
	ErrDuplicateKey = errors.New("duplicate key")
)

// MemoryAdapter is a process-local Store. Transactions are serialized and
// run against a copy of the state that replaces the live state on commit.
type MemoryAdapter struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	items  map[string]domain.Item // by id
	byName map[string]string      // name -> id
	orders []domain.Order
	lines  []domain.OrderLine
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{state: memState{
		items:  make(map[string]domain.Item),
		byName: make(map[string]string),
	}}
}

func (s memState) clone() memState {
	c := memState{
		items:  make(map[string]domain.Item, len(s.items)),
		byName: make(map[string]string, len(s.byName)),
		orders: make([]domain.Order, len(s.orders)),
		lines:  make([]domain.OrderLine, len(s.lines)),
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.byName {
		c.byName[k] = v
	}
	copy(c.orders, s.orders)
	copy(c.lines, s.lines)
	return c
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *MemoryAdapter) ListItems(ctx context.Context) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.Item, 0, len(m.state.items))
	for _, it := range m.state.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// UpsertItem sets the stock of the named item, creating it if needed.
func (m *MemoryAdapter) UpsertItem(ctx context.Context, name string, stock int) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.state.byName[name]; ok {
		it := m.state.items[id]
		it.Stock = stock
		m.state.items[id] = it
		return it, nil
	}
	it := domain.Item{ID: uuid.NewString(), Name: name, Stock: stock}
	m.state.items[it.ID] = it
	m.state.byName[name] = it.ID
	return it, nil
}

// Ledger returns copies of all committed orders and lines.
func (m *MemoryAdapter) Ledger() ([]domain.Order, []domain.OrderLine) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make([]domain.Order, len(m.state.orders))
	lines := make([]domain.OrderLine, len(m.state.lines))
	copy(orders, m.state.orders)
	copy(lines, m.state.lines)
	return orders, lines
}

type memTx struct {
	state memState
}

func (t *memTx) ResolveItems(ctx context.Context, names []string) (map[string]domain.Item, error) {
	out := make(map[string]domain.Item, len(names))
	for _, n := range names {
		if id, ok := t.state.byName[n]; ok {
			out[n] = t.state.items[id]
		}
	}
	return out, nil
}

func (t *memTx) InsertOrder(ctx context.Context, order domain.Order) error {
	for _, o := range t.state.orders {
		if o.ID == order.ID {
			return fmt.Errorf("order %s: %w", order.ID, ErrDuplicateKey)
		}
	}
	t.state.orders = append(t.state.orders, order)
	return nil
}

func (t *memTx) InsertLine(ctx context.Context, line domain.OrderLine) error {
	if t.orderIndex(line.OrderID) < 0 {
		return fmt.Errorf("line %s: %w", line.ID, ErrUnknownOrder)
	}
	if _, ok := t.state.items[line.ItemID]; !ok {
		return fmt.Errorf("line %s: %w", line.ID, ErrUnknownItem)
	}
	t.state.lines = append(t.state.lines, line)
	return nil
}

func (t *memTx) FindUnfulfilled(ctx context.Context, displayCode string) (domain.Order, error) {
	found := -1
	for i, o := range t.state.orders {
		if o.DisplayCode != displayCode || o.Fulfilled {
			continue
		}
		if found < 0 || o.CreatedAt.Before(t.state.orders[found].CreatedAt) {
			found = i
		}
	}
	if found < 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return t.state.orders[found], nil
}

func (t *memTx) MarkFulfilled(ctx context.Context, orderID string, at time.Time) error {
	i := t.orderIndex(orderID)
	if i < 0 || t.state.orders[i].Fulfilled {
		return domain.ErrOrderNotFound
	}
	t.state.orders[i].Fulfilled = true
	t.state.orders[i].FulfilledAt = &at
	return nil
}

func (t *memTx) LineTotals(ctx context.Context, orderID string) (map[string]int, error) {
	totals := make(map[string]int)
	for _, l := range t.state.lines {
		if l.OrderID == orderID {
			totals[l.ItemID] += l.Quantity
		}
	}
	return totals, nil
}

func (t *memTx) AdjustStock(ctx context.Context, itemID string, delta int) (domain.StockLevel, error) {
	it, ok := t.state.items[itemID]
	if !ok {
		return domain.StockLevel{}, fmt.Errorf("item %s: %w", itemID, ErrUnknownItem)
	}
	it.Stock += delta
	t.state.items[itemID] = it
	return domain.StockLevel{ItemID: it.ID, Name: it.Name, Stock: it.Stock, Delta: delta}, nil
}

func (t *memTx) orderIndex(id string) int {
	for i, o := range t.state.orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}
