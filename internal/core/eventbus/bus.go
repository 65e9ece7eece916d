// Package eventbus fans lifecycle events out to in-process subscribers.
//
// Each subscriber owns a bounded buffer. Publish never blocks: when a
// subscriber's buffer is full the bus either discards that subscriber's
// oldest pending event or disconnects it, depending on the OverflowPolicy.
// Other subscribers and the publisher are unaffected either way.
package eventbus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rl1809/order-stream/internal/core/domain"
)

const defaultBufferSize = 64

type OverflowPolicy int

const (
	DropOldest OverflowPolicy = iota
	Disconnect
)

// ParseOverflowPolicy accepts "drop-oldest" and "disconnect".
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch s {
	case "", "drop-oldest":
		return DropOldest, true
	case "disconnect":
		return Disconnect, true
	}
	return DropOldest, false
}

type Option func(*Bus)

func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(b *Bus) { b.policy = p }
}

func WithLogger(log *zap.Logger) Option {
	return func(b *Bus) { b.log = log }
}

type Bus struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	policy     OverflowPolicy
	log        *zap.Logger
}

func New(opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[uint64]*Subscription),
		bufferSize: defaultBufferSize,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is the handle returned by Subscribe. Its channel is closed
// after Unsubscribe, or when the bus disconnects it for overflowing.
type Subscription struct {
	id      uint64
	ch      chan domain.LifecycleEvent
	dropped atomic.Uint64
	err     atomic.Pointer[error]
	closed  bool // guarded by Bus.mu
}

func (s *Subscription) Events() <-chan domain.LifecycleEvent { return s.ch }

// Dropped counts events discarded for this subscriber under DropOldest.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Err returns domain.ErrSubscriberOverflow once the bus has disconnected the
// subscriber, nil otherwise.
func (s *Subscription) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id: b.nextID,
		ch: make(chan domain.LifecycleEvent, b.bufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe is safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub)
}

// remove requires b.mu held for writing.
func (b *Bus) remove(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub.id)
	close(sub.ch)
}

func (b *Bus) Publish(event domain.LifecycleEvent) {
	var overflowed []*Subscription

	b.mu.RLock()
	for _, sub := range b.subs {
		if !b.deliver(sub, event) {
			overflowed = append(overflowed, sub)
		}
	}
	b.mu.RUnlock()

	if len(overflowed) == 0 {
		return
	}

	b.mu.Lock()
	for _, sub := range overflowed {
		if sub.closed {
			continue
		}
		err := domain.ErrSubscriberOverflow
		sub.err.Store(&err)
		b.remove(sub)
		b.log.Warn("subscriber disconnected on overflow",
			zap.Uint64("subscriber", sub.id),
			zap.String("event", string(event.Kind)),
		)
	}
	b.mu.Unlock()
}

// deliver returns false when the subscriber must be disconnected.
func (b *Bus) deliver(sub *Subscription, event domain.LifecycleEvent) bool {
	select {
	case sub.ch <- event:
		return true
	default:
	}

	if b.policy == Disconnect {
		return false
	}

	// The receiver may drain concurrently, so retry until the send lands.
	for {
		select {
		case <-sub.ch:
			n := sub.dropped.Add(1)
			b.log.Debug("dropped oldest event for slow subscriber",
				zap.Uint64("subscriber", sub.id),
				zap.Uint64("dropped_total", n),
			)
		default:
		}
		select {
		case sub.ch <- event:
			return true
		default:
		}
	}
}

// Len returns the number of live subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close disconnects every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		b.remove(sub)
	}
}
