package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/order-stream/internal/core/domain"
	"github.com/rl1809/order-stream/internal/core/eventbus"
)

const (
	DefaultHeartbeat = 30 * time.Second
	PingEvent        = "ping"
)

// Message is one labeled frame sent to an observer.
type Message struct {
	Event string
	Data  []byte
}

// Sink writes messages to a single observer connection.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

type Channel struct {
	bus       *eventbus.Bus
	heartbeat time.Duration
	log       *zap.Logger
}

func NewChannel(bus *eventbus.Bus, heartbeat time.Duration, log *zap.Logger) *Channel {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{bus: bus, heartbeat: heartbeat, log: log}
}

// Serve relays bus events and heartbeats to sink until ctx is cancelled, the
// sink fails, or the bus disconnects the subscription. The subscription is
// always released before Serve returns.
func (c *Channel) Serve(ctx context.Context, sink Sink) error {
	sub := c.bus.Subscribe()
	defer c.bus.Unsubscribe(sub)

	c.log.Debug("observer connected", zap.Int("observers", c.bus.Len()))
	defer c.log.Debug("observer disconnected")

	if err := sink.Send(ctx, ping()); err != nil {
		return fmt.Errorf("send ping: %w", err)
	}

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return nil
			}
			msg, err := Encode(ev)
			if err != nil {
				c.log.Error("encode lifecycle event", zap.String("display_code", ev.DisplayCode), zap.Error(err))
				continue
			}
			if err := sink.Send(ctx, msg); err != nil {
				return fmt.Errorf("send %s: %w", msg.Event, err)
			}

		case <-ticker.C:
			if err := sink.Send(ctx, ping()); err != nil {
				return fmt.Errorf("send ping: %w", err)
			}
		}
	}
}

// Encode renders an event as a labeled JSON message.
func Encode(ev domain.LifecycleEvent) (Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: string(ev.Kind), Data: data}, nil
}

func ping() Message {
	return Message{Event: PingEvent, Data: []byte(PingEvent)}
}
