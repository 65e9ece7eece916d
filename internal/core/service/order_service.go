package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-stream/internal/core/domain"
	"github.com/rl1809/order-stream/internal/port"
)

type CodeGenerator interface {
	Next(mobile bool) string
}

type Option func(*OrderService)

func WithLogger(log *zap.Logger) Option {
	return func(s *OrderService) { s.log = log }
}

func WithCodeGenerator(g CodeGenerator) Option {
	return func(s *OrderService) { s.codes = g }
}

func WithIdempotency(store port.IdempotencyStore) Option {
	return func(s *OrderService) { s.idem = store }
}

func WithCrowdEstimator(e port.CrowdEstimator) Option {
	return func(s *OrderService) { s.crowd = e }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

type OrderService struct {
	store  port.Store
	events port.EventPublisher
	codes  CodeGenerator
	idem   port.IdempotencyStore
	crowd  port.CrowdEstimator
	now    func() time.Time
	log    *zap.Logger
	tracer trace.Tracer
}

func NewOrderService(store port.Store, events port.EventPublisher, opts ...Option) *OrderService {
	s := &OrderService{
		store:  store,
		events: events,
		codes:  NewDisplayCodeGenerator(nil),
		now:    time.Now,
		log:    zap.NewNop(),
		tracer: otel.Tracer("order-engine"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder persists an order with one line per resolvable request line and
// returns its display code. Lines naming unknown items are dropped.
func (s *OrderService) CreateOrder(ctx context.Context, lines []domain.LineRequest) (string, error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder")
	defer span.End()

	if err := domain.ValidateLines(lines); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	now := s.now().UTC()
	order := domain.Order{
		ID:          uuid.NewString(),
		DisplayCode: s.codes.Next(domain.IsMobile(lines)),
		Origin:      domain.Origin(lines),
		CreatedAt:   now,
	}
	span.SetAttributes(
		attribute.String("order.display_code", order.DisplayCode),
		attribute.Int("order.requested_lines", len(lines)),
	)

	var persisted int
	err := s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		items, err := tx.ResolveItems(ctx, distinctNames(lines))
		if err != nil {
			return fmt.Errorf("resolve items: %w", err)
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for _, l := range lines {
			item, ok := items[l.Item]
			if !ok {
				continue
			}
			line := domain.OrderLine{
				ID:       uuid.NewString(),
				OrderID:  order.ID,
				ItemID:   item.ID,
				Quantity: l.Quantity,
			}
			if err := tx.InsertLine(ctx, line); err != nil {
				return fmt.Errorf("insert line: %w", err)
			}
			persisted++
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("create order failed", zap.String("display_code", order.DisplayCode), zap.Error(err))
		return "", fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	if dropped := len(lines) - persisted; dropped > 0 {
		s.log.Info("dropped unresolved lines",
			zap.String("display_code", order.DisplayCode),
			zap.Int("dropped", dropped),
		)
	}

	s.events.Publish(domain.OrderCreated(order.DisplayCode, lines, now))
	s.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("display_code", order.DisplayCode),
		zap.Int("lines", persisted),
	)
	return order.DisplayCode, nil
}

// CreateOrderOnce is CreateOrder guarded by an idempotency key. An empty key
// or a service without an idempotency store behaves like CreateOrder.
func (s *OrderService) CreateOrderOnce(ctx context.Context, key string, lines []domain.LineRequest) (string, error) {
	if key == "" || s.idem == nil {
		return s.CreateOrder(ctx, lines)
	}
	if err := domain.ValidateLines(lines); err != nil {
		return "", err
	}

	ok, err := s.idem.SetIdempotency(ctx, "intake:"+key)
	if err != nil {
		return "", fmt.Errorf("%w: idempotency check: %w", domain.ErrStoreUnavailable, err)
	}
	if !ok {
		return "", domain.ErrDuplicateRequest
	}

	code, err := s.CreateOrder(ctx, lines)
	if err != nil {
		// Nothing was written, so the caller may retry with the same key.
		if relErr := s.idem.ReleaseIdempotency(context.WithoutCancel(ctx), "intake:"+key); relErr != nil {
			s.log.Warn("release idempotency key failed", zap.String("key", key), zap.Error(relErr))
		}
		return "", err
	}
	return code, nil
}

// Fulfill marks the oldest unfulfilled order with the display code as
// fulfilled and takes each line's quantity out of stock. Stock is not
// clamped at zero.
func (s *OrderService) Fulfill(ctx context.Context, displayCode string) (*domain.FulfillmentResult, error) {
	ctx, span := s.tracer.Start(ctx, "Fulfill")
	defer span.End()
	span.SetAttributes(attribute.String("order.display_code", displayCode))

	if displayCode == "" {
		return nil, domain.ErrOrderNotFound
	}

	now := s.now().UTC()
	var result domain.FulfillmentResult
	err := s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		order, err := tx.FindUnfulfilled(ctx, displayCode)
		if err != nil {
			return err
		}
		if err := tx.MarkFulfilled(ctx, order.ID, now); err != nil {
			return err
		}
		totals, err := tx.LineTotals(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("line totals: %w", err)
		}

		itemIDs := make([]string, 0, len(totals))
		for id := range totals {
			itemIDs = append(itemIDs, id)
		}
		sort.Strings(itemIDs)

		stock := make([]domain.StockLevel, 0, len(itemIDs))
		for _, id := range itemIDs {
			level, err := tx.AdjustStock(ctx, id, -totals[id])
			if err != nil {
				return fmt.Errorf("adjust stock %s: %w", id, err)
			}
			stock = append(stock, level)
		}

		order.Fulfilled = true
		order.FulfilledAt = &now
		result = domain.FulfillmentResult{Order: order, Stock: stock}
		return nil
	})
	if errors.Is(err, domain.ErrOrderNotFound) {
		span.SetStatus(codes.Error, "not found")
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("fulfill failed", zap.String("display_code", displayCode), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	s.events.Publish(domain.OrderUpdated(displayCode, result.Order, result.Stock, now))
	s.log.Info("order fulfilled",
		zap.String("order_id", result.Order.ID),
		zap.String("display_code", displayCode),
		zap.Int("items", len(result.Stock)),
	)
	return &result, nil
}

// Inventory lists current stock with a crowd reading. A failing estimator
// leaves CrowdLevel nil rather than failing the snapshot.
func (s *OrderService) Inventory(ctx context.Context) (*domain.InventorySnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "Inventory")
	defer span.End()

	items, err := s.store.ListItems(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: list items: %w", domain.ErrStoreUnavailable, err)
	}

	snap := &domain.InventorySnapshot{Items: items, TakenAt: s.now().UTC()}
	if s.crowd == nil {
		return snap, nil
	}

	level, err := s.crowd.Estimate(ctx)
	if err != nil {
		s.log.Warn("crowd estimate unavailable", zap.Error(err))
		span.AddEvent("crowd estimate unavailable")
		return snap, nil
	}
	snap.CrowdLevel = &level
	return snap, nil
}

func distinctNames(lines []domain.LineRequest) []string {
	seen := make(map[string]struct{}, len(lines))
	names := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.Item]; ok {
			continue
		}
		seen[l.Item] = struct{}{}
		names = append(names, l.Item)
	}
	return names
}
