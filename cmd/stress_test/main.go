package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/order-stream/internal/adapter/storage"
	"github.com/rl1809/order-stream/internal/core/domain"
	"github.com/rl1809/order-stream/internal/core/eventbus"
	"github.com/rl1809/order-stream/internal/core/service"
	"github.com/rl1809/order-stream/internal/core/stream"
)

const (
	itemName      = "Coffee"
	initialStock  = 1000
	totalOrders   = 200
	observerCount = 20
	busBuffer     = 1024
)

type countingSink struct {
	events atomic.Int64
}

func (s *countingSink) Send(ctx context.Context, msg stream.Message) error {
	if msg.Event != stream.PingEvent {
		s.events.Add(1)
	}
	return nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewMemoryAdapter()
	if _, err := store.UpsertItem(ctx, itemName, initialStock); err != nil {
		log.Fatalf("failed to seed item: %v", err)
	}

	bus := eventbus.New(eventbus.WithBufferSize(busBuffer))
	defer bus.Close()

	orderService := service.NewOrderService(store, bus)
	channel := stream.NewChannel(bus, time.Minute, nil)

	// Connect observers
	sinks := make([]*countingSink, observerCount)
	var observers sync.WaitGroup
	for i := range sinks {
		sinks[i] = &countingSink{}
		observers.Add(1)
		go func(sink *countingSink) {
			defer observers.Done()
			channel.Serve(ctx, sink)
		}(sinks[i])
	}
	for bus.Len() < observerCount {
		time.Sleep(time.Millisecond)
	}

	// Spawn concurrent intakes
	var createFail atomic.Int32
	var mu sync.Mutex
	codes := make([]string, 0, totalOrders)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalOrders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			lines := []domain.LineRequest{{Item: itemName, Quantity: 1}}
			if n%2 == 0 {
				lines[0].Contact = fmt.Sprintf("guest-%d@example.com", n)
			}
			code, err := orderService.CreateOrder(ctx, lines)
			if err != nil {
				createFail.Add(1)
				return
			}
			mu.Lock()
			codes = append(codes, code)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	// Fulfill every created order, concurrently
	var fulfillFail atomic.Int32
	for _, code := range codes {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			if _, err := orderService.Fulfill(ctx, code); err != nil {
				fulfillFail.Add(1)
			}
		}(code)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// Let observers drain, then disconnect them
	expected := int64(2 * len(codes))
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !allDelivered(sinks, expected) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	observers.Wait()

	distinct := make(map[string]int)
	for _, c := range codes {
		distinct[c]++
	}
	collisions := len(codes) - len(distinct)

	items, _ := store.ListItems(context.Background())
	finalStock := items[0].Stock

	minDelivered, maxDelivered := sinks[0].events.Load(), sinks[0].events.Load()
	for _, s := range sinks[1:] {
		n := s.events.Load()
		minDelivered = min(minDelivered, n)
		maxDelivered = max(maxDelivered, n)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Orders:     %d\n", totalOrders)
	fmt.Printf("Create Failed:    %d\n", createFail.Load())
	fmt.Printf("Fulfill Failed:   %d\n", fulfillFail.Load())
	fmt.Printf("Code Collisions:  %d\n", collisions)
	fmt.Printf("Observers:        %d\n", observerCount)
	fmt.Printf("Delivered/Obs:    min %d, max %d (expected %d)\n", minDelivered, maxDelivered, expected)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if createFail.Load() == 0 && fulfillFail.Load() == 0 {
		fmt.Println("PASS: All orders created and fulfilled")
	} else {
		fmt.Printf("FAIL: %d create and %d fulfill errors\n", createFail.Load(), fulfillFail.Load())
	}

	if want := initialStock - len(codes); finalStock == want {
		fmt.Printf("PASS: Stock is %d\n", finalStock)
	} else {
		fmt.Printf("FAIL: Expected stock %d, got %d\n", want, finalStock)
	}

	if minDelivered == expected && maxDelivered == expected {
		fmt.Println("PASS: Every observer saw every event once")
	} else {
		fmt.Println("FAIL: Observers missed or duplicated events")
	}
}

func allDelivered(sinks []*countingSink, expected int64) bool {
	for _, s := range sinks {
		if s.events.Load() < expected {
			return false
		}
	}
	return true
}
