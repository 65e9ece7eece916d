package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/rl1809/order-stream/internal/adapter/storage"
	"github.com/rl1809/order-stream/internal/core/domain"
	"github.com/rl1809/order-stream/internal/core/eventbus"
	"github.com/rl1809/order-stream/internal/port"
)

// Mock EventPublisher
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
	onPub  func(domain.LifecycleEvent)
}

func (p *recordingPublisher) Publish(ev domain.LifecycleEvent) {
	if p.onPub != nil {
		p.onPub(ev)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []domain.LifecycleEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.LifecycleEvent(nil), p.events...)
}

// failingStore wraps the memory store and fails selected steps inside the
// transaction.
type failingStore struct {
	*storage.MemoryAdapter
	failLine bool
	failList bool
}

var errInjected = errors.New("injected failure")

func (f *failingStore) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	return f.MemoryAdapter.WithinTx(ctx, func(tx port.LedgerTx) error {
		return fn(&failingTx{LedgerTx: tx, failLine: f.failLine})
	})
}

func (f *failingStore) ListItems(ctx context.Context) ([]domain.Item, error) {
	if f.failList {
		return nil, errInjected
	}
	return f.MemoryAdapter.ListItems(ctx)
}

type failingTx struct {
	port.LedgerTx
	failLine bool
}

func (t *failingTx) InsertLine(ctx context.Context, line domain.OrderLine) error {
	if t.failLine {
		return errInjected
	}
	return t.LedgerTx.InsertLine(ctx, line)
}

type fixedCodes string

func (c fixedCodes) Next(bool) string { return string(c) }

type mockEstimator struct {
	value float64
	err   error
}

func (m mockEstimator) Estimate(ctx context.Context) (float64, error) { return m.value, m.err }

type mockIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *mockIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *mockIdempotency) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

func newStore(t *testing.T, stock map[string]int) *storage.MemoryAdapter {
	t.Helper()
	store := storage.NewMemoryAdapter()
	for name, n := range stock {
		if _, err := store.UpsertItem(context.Background(), name, n); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	return store
}

func stockOf(t *testing.T, store port.Store, name string) int {
	t.Helper()
	items, err := store.ListItems(context.Background())
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	for _, it := range items {
		if it.Name == name {
			return it.Stock
		}
	}
	t.Fatalf("item %s not found", name)
	return 0
}

func TestCreateOrder_EndToEndInStore(t *testing.T) {
	store := newStore(t, map[string]int{"Coffee": 10, "Bagel": 5})
	bus := eventbus.New()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	svc := NewOrderService(store, bus)

	req := []domain.LineRequest{{Item: "Coffee", Quantity: 2}, {Item: "Bagel", Quantity: 1}}
	code, err := svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if !strings.HasPrefix(code, "D") {
		t.Errorf("expected in-store code, got %s", code)
	}

	orders, lines := store.Ledger()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Origin != domain.OriginPOS {
		t.Errorf("expected origin POS, got %s", orders[0].Origin)
	}
	if len(lines) != 2 {
		t.Errorf("expected 2 lines, got %d", len(lines))
	}

	ev := <-sub.Events()
	if ev.Kind != domain.EventOrderCreated || ev.DisplayCode != code {
		t.Errorf("unexpected event %+v", ev)
	}
	if len(ev.Lines) != 2 || ev.Lines[0] != req[0] || ev.Lines[1] != req[1] {
		t.Errorf("event lines not verbatim: %+v", ev.Lines)
	}
}

func TestCreateOrder_MobilePrefixAndOrigin(t *testing.T) {
	store := newStore(t, map[string]int{"Coffee": 10})
	svc := NewOrderService(store, &recordingPublisher{})

	code, err := svc.CreateOrder(context.Background(), []domain.LineRequest{
		{Contact: "ann@example.com", Item: "Coffee", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !strings.HasPrefix(code, "M") {
		t.Errorf("expected mobile code, got %s", code)
	}
	orders, _ := store.Ledger()
	if orders[0].Origin != "ann@example.com" {
		t.Errorf("expected origin to be contact address, got %s", orders[0].Origin)
	}
}

func TestCreateOrder_DropsUnresolvedLines(t *testing.T) {
	store := newStore(t, map[string]int{"Coffee": 10})
	pub := &recordingPublisher{}
	svc := NewOrderService(store, pub)

	req := []domain.LineRequest{
		{Item: "Coffee", Quantity: 1},
		{Item: "coffee", Quantity: 1},
		{Item: "Unicorn", Quantity: 4},
	}
	if _, err := svc.CreateOrder(context.Background(), req); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, lines := store.Ledger()
	if len(lines) != 1 {
		t.Errorf("expected 1 persisted line, got %d", len(lines))
	}
	events := pub.all()
	if len(events) != 1 || len(events[0].Lines) != 3 {
		t.Errorf("expected event carrying all 3 requested lines, got %+v", events)
	}
}

func TestCreateOrder_AllLinesUnresolvedStillCreates(t *testing.T) {
	store := newStore(t, nil)
	pub := &recordingPublisher{}
	svc := NewOrderService(store, pub)

	code, err := svc.CreateOrder(context.Background(), []domain.LineRequest{{Item: "Ghost", Quantity: 1}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	orders, lines := store.Ledger()
	if len(orders) != 1 || len(lines) != 0 {
		t.Errorf("expected empty order, got %d orders %d lines", len(orders), len(lines))
	}
	if orders[0].DisplayCode != code {
		t.Errorf("expected code %s, got %s", code, orders[0].DisplayCode)
	}
	if len(pub.all()) != 1 {
		t.Error("expected OrderCreated published")
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	cases := map[string][]domain.LineRequest{
		"empty":         nil,
		"zero quantity": {{Item: "Coffee", Quantity: 0}},
		"negative":      {{Item: "Coffee", Quantity: -2}},
		"no item":       {{Quantity: 1}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			store := newStore(t, map[string]int{"Coffee": 10})
			pub := &recordingPublisher{}
			svc := NewOrderService(store, pub)

			_, err := svc.CreateOrder(context.Background(), req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got: %v", err)
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
			if orders, _ := store.Ledger(); len(orders) != 0 {
				t.Error("expected no order persisted")
			}
			if len(pub.all()) != 0 {
				t.Error("expected nothing published")
			}
		})
	}
}

func TestCreateOrder_AtomicOnLineFailure(t *testing.T) {
	store := &failingStore{MemoryAdapter: newStore(t, map[string]int{"Coffee": 10}), failLine: true}
	pub := &recordingPublisher{}
	svc := NewOrderService(store, pub)

	_, err := svc.CreateOrder(context.Background(), []domain.LineRequest{{Item: "Coffee", Quantity: 1}})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got: %v", err)
	}
	if !errors.Is(err, errInjected) {
		t.Errorf("expected cause to be kept, got: %v", err)
	}

	orders, lines := store.Ledger()
	if len(orders) != 0 || len(lines) != 0 {
		t.Errorf("expected zero rows, got %d orders %d lines", len(orders), len(lines))
	}
	if len(pub.all()) != 0 {
		t.Error("expected nothing published")
	}
}

func TestCreateOrder_PublishesAfterCommit(t *testing.T) {
	store := newStore(t, map[string]int{"Coffee": 10})
	var visible bool
	pub := &recordingPublisher{onPub: func(ev domain.LifecycleEvent) {
		orders, _ := store.Ledger()
		visible = len(orders) == 1 && orders[0].DisplayCode == ev.DisplayCode
	}}
	svc := NewOrderService(store, pub)

	if _, err := svc.CreateOrder(context.Background(), []domain.LineRequest{{Item: "Coffee", Quantity: 1}}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !visible {
		t.Error("order was not committed when the event was published")
	}
}

func TestFulfill_DecrementsByQuantity(t *testing.T) {
	store := newStore(t, map[string]int{"X": 10})
	pub := &recordingPublisher{}
	svc := NewOrderService(store, pub)
	ctx := context.Background()

	code, err := svc.CreateOrder(ctx, []domain.LineRequest{{Item: "X", Quantity: 3}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	result, err := svc.Fulfill(ctx, code)
	if err != nil {
		t.Fatalf("fulfill failed: %v", err)
	}

	if got := stockOf(t, store, "X"); got != 7 {
		t.Errorf("expected stock 7, got %d", got)
	}
	if !result.Order.Fulfilled || result.Order.FulfilledAt == nil {
		t.Error("expected fulfilled order in result")
	}
	if len(result.Stock) != 1 || result.Stock[0].Stock != 7 || result.Stock[0].Delta != -3 {
		t.Errorf("unexpected stock levels %+v", result.Stock)
	}

	events := pub.all()
	if len(events) != 2 || events[1].Kind != domain.EventOrderUpdated {
		t.Fatalf("expected OrderUpdated after OrderCreated, got %+v", events)
	}
	if events[1].DisplayCode != code || events[1].Order == nil || events[1].Order.ID != result.Order.ID {
		t.Errorf("unexpected update event %+v", events[1])
	}
}

func TestFulfill_SumsRepeatedItems(t *testing.T) {
	store := newStore(t, map[string]int{"Coffee": 10, "Bagel": 4})
	svc := NewOrderService(store, &recordingPublisher{})
	ctx := context.Background()

	code, _ := svc.CreateOrder(ctx, []domain.LineRequest{
		{Item: "Coffee", Quantity: 2},
		{Item: "Bagel", Quantity: 1},
		{Item: "Coffee", Quantity: 1},
	})
	result, err := svc.Fulfill(ctx, code)
	if err != nil {
		t.Fatalf("fulfill failed: %v", err)
	}

	if got := stockOf(t, store, "Coffee"); got != 7 {
		t.Errorf("expected Coffee 7, got %d", got)
	}
	if got := stockOf(t, store, "Bagel"); got != 3 {
		t.Errorf("expected Bagel 3, got %d", got)
	}
	if len(result.Stock) != 2 {
		t.Errorf("expected one level per distinct item, got %d", len(result.Stock))
	}
}

func TestFulfill_StockMayGoNegative(t *testing.T) {
	store := newStore(t, map[string]int{"Bagel": 1})
	svc := NewOrderService(store, &recordingPublisher{})
	ctx := context.Background()

	code, _ := svc.CreateOrder(ctx, []domain.LineRequest{{Item: "Bagel", Quantity: 4}})
	if _, err := svc.Fulfill(ctx, code); err != nil {
		t.Fatalf("fulfill failed: %v", err)
	}
	if got := stockOf(t, store, "Bagel"); got != -3 {
		t.Errorf("expected -3, got %d", got)
	}
}

func TestFulfill_RepeatedAndUnknown(t *testing.T) {
	store := newStore(t, map[string]int{"X": 10})
	pub := &recordingPublisher{}
	svc := NewOrderService(store, pub)
	ctx := context.Background()

	code, _ := svc.CreateOrder(ctx, []domain.LineRequest{{Item: "X", Quantity: 3}})
	if _, err := svc.Fulfill(ctx, code); err != nil {
		t.Fatalf("first fulfill failed: %v", err)
	}

	for _, c := range []string{code, "D-nope", ""} {
		_, err := svc.Fulfill(ctx, c)
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Errorf("code %q: expected ErrOrderNotFound, got %v", c, err)
		}
	}

	if got := stockOf(t, store, "X"); got != 7 {
		t.Errorf("expected stock unchanged at 7, got %d", got)
	}
	if n := len(pub.all()); n != 2 {
		t.Errorf("expected only the first create and fulfill published, got %d", n)
	}
}

// Codes come from a small random space, so two orders can share one. Both are
// stored; fulfillment by code takes the oldest unfulfilled first, so a client
// holding the second order's code may fulfill the first order instead.
func TestCreateOrder_DisplayCodeCollision(t *testing.T) {
	store := newStore(t, map[string]int{"Coffee": 10, "Bagel": 10})
	svc := NewOrderService(store, &recordingPublisher{}, WithCodeGenerator(fixedCodes("D7")))
	ctx := context.Background()

	var wg sync.WaitGroup
	codes := make([]string, 2)
	for i, item := range []string{"Coffee", "Bagel"} {
		wg.Add(1)
		go func(i int, item string) {
			defer wg.Done()
			code, err := svc.CreateOrder(ctx, []domain.LineRequest{{Item: item, Quantity: 1}})
			if err != nil {
				t.Errorf("create failed: %v", err)
			}
			codes[i] = code
		}(i, item)
	}
	wg.Wait()

	if codes[0] != codes[1] {
		t.Fatalf("expected colliding codes, got %v", codes)
	}
	orders, _ := store.Ledger()
	if len(orders) != 2 {
		t.Fatalf("expected both orders stored, got %d", len(orders))
	}

	first, err := svc.Fulfill(ctx, "D7")
	if err != nil {
		t.Fatalf("first fulfill failed: %v", err)
	}
	second, err := svc.Fulfill(ctx, "D7")
	if err != nil {
		t.Fatalf("second fulfill failed: %v", err)
	}
	if first.Order.ID == second.Order.ID {
		t.Error("expected two distinct orders behind one code")
	}
	if _, err := svc.Fulfill(ctx, "D7"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound once both are fulfilled, got %v", err)
	}
}

func TestDisplayCodeGenerator_SpaceIsSmall(t *testing.T) {
	gen := NewDisplayCodeGenerator(rand.NewPCG(1, 2))
	seen := make(map[string]bool)
	collided := false
	for i := 0; i < 200; i++ {
		code := gen.Next(false)
		if !strings.HasPrefix(code, "D") {
			t.Fatalf("unexpected prefix in %s", code)
		}
		if seen[code] {
			collided = true
		}
		seen[code] = true
	}
	if !collided {
		t.Error("expected a collision within 200 draws from 1000 codes")
	}
	if code := gen.Next(true); !strings.HasPrefix(code, "M") {
		t.Errorf("expected mobile prefix, got %s", code)
	}
}

func TestCreateOrderOnce_Duplicate(t *testing.T) {
	store := newStore(t, map[string]int{"Coffee": 10})
	svc := NewOrderService(store, &recordingPublisher{}, WithIdempotency(&mockIdempotency{seen: map[string]bool{}}))
	ctx := context.Background()
	req := []domain.LineRequest{{Item: "Coffee", Quantity: 1}}

	if _, err := svc.CreateOrderOnce(ctx, "key-1", req); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := svc.CreateOrderOnce(ctx, "key-1", req); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got: %v", err)
	}
	if _, err := svc.CreateOrderOnce(ctx, "", req); err != nil {
		t.Errorf("empty key should not be deduplicated: %v", err)
	}

	if orders, _ := store.Ledger(); len(orders) != 2 {
		t.Errorf("expected 2 orders, got %d", len(orders))
	}
}

func TestCreateOrderOnce_RetryAfterStoreFailure(t *testing.T) {
	store := &failingStore{MemoryAdapter: newStore(t, map[string]int{"Coffee": 10}), failLine: true}
	pub := &recordingPublisher{}
	svc := NewOrderService(store, pub, WithIdempotency(&mockIdempotency{seen: map[string]bool{}}))
	ctx := context.Background()
	req := []domain.LineRequest{{Item: "Coffee", Quantity: 1}}

	if _, err := svc.CreateOrderOnce(ctx, "k1", req); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got: %v", err)
	}

	store.failLine = false
	code, err := svc.CreateOrderOnce(ctx, "k1", req)
	if err != nil {
		t.Fatalf("retry with the same key failed: %v", err)
	}
	if _, err := svc.CreateOrderOnce(ctx, "k1", req); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest after success, got: %v", err)
	}

	orders, _ := store.Ledger()
	if len(orders) != 1 || orders[0].DisplayCode != code {
		t.Errorf("expected exactly the retried order, got %+v", orders)
	}
	if n := len(pub.all()); n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
}

func TestInventory_WithCrowdLevel(t *testing.T) {
	store := newStore(t, map[string]int{"Coffee": 10, "Bagel": 5})
	svc := NewOrderService(store, &recordingPublisher{}, WithCrowdEstimator(mockEstimator{value: 100}))

	snap, err := svc.Inventory(context.Background())
	if err != nil {
		t.Fatalf("inventory failed: %v", err)
	}
	if len(snap.Items) != 2 || snap.Items[0].Name != "Bagel" {
		t.Errorf("unexpected items %+v", snap.Items)
	}
	if snap.CrowdLevel == nil || *snap.CrowdLevel != 100 {
		t.Errorf("expected crowd level 100, got %v", snap.CrowdLevel)
	}
}

func TestInventory_EstimatorFailureIsPartial(t *testing.T) {
	store := newStore(t, map[string]int{"Coffee": 10})
	svc := NewOrderService(store, &recordingPublisher{},
		WithCrowdEstimator(mockEstimator{err: domain.ErrEstimatorUnavailable}))

	snap, err := svc.Inventory(context.Background())
	if err != nil {
		t.Fatalf("expected partial snapshot, got error: %v", err)
	}
	if snap.CrowdLevel != nil {
		t.Errorf("expected nil crowd level, got %v", *snap.CrowdLevel)
	}
	if len(snap.Items) != 1 {
		t.Errorf("expected items despite estimator failure, got %d", len(snap.Items))
	}
}

func TestInventory_StoreFailure(t *testing.T) {
	store := &failingStore{MemoryAdapter: newStore(t, nil), failList: true}
	svc := NewOrderService(store, &recordingPublisher{})

	if _, err := svc.Inventory(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got: %v", err)
	}
}
