package messaging

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-stream/internal/core/eventbus"
	"github.com/rl1809/order-stream/internal/core/stream"
	"github.com/rl1809/order-stream/internal/platform/tracing"
)

const writeTimeout = 5 * time.Second

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaForwarder is a bus subscriber that copies lifecycle events to a Kafka
// topic, keyed by display code. Delivery is best effort: failed writes are
// logged and skipped.
type KafkaForwarder struct {
	bus      *eventbus.Bus
	producer Producer
	topic    string
	log      *zap.Logger
	tracer   trace.Tracer
}

func NewKafkaForwarder(bus *eventbus.Bus, producer Producer, topic string, log *zap.Logger) *KafkaForwarder {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaForwarder{
		bus:      bus,
		producer: producer,
		topic:    topic,
		log:      log,
		tracer:   otel.Tracer("kafka-forwarder"),
	}
}

func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// Run forwards events until ctx is cancelled or the bus drops the
// subscription.
func (f *KafkaForwarder) Run(ctx context.Context) error {
	sub := f.bus.Subscribe()
	defer f.bus.Unsubscribe(sub)

	f.log.Info("kafka forwarder started", zap.String("topic", f.topic))
	for {
		select {
		case <-ctx.Done():
			f.log.Info("kafka forwarder stopping")
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return sub.Err()
			}
			msg, err := stream.Encode(ev)
			if err != nil {
				f.log.Error("encode lifecycle event", zap.Error(err))
				continue
			}
			f.forward(ctx, ev.DisplayCode, msg)
		}
	}
}

func (f *KafkaForwarder) forward(ctx context.Context, key string, msg stream.Message) {
	ctx, span := f.tracer.Start(ctx, "kafka.forward", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", f.topic),
		attribute.String("order.display_code", key),
	)

	headers := []kafka.Header{{Key: "event_type", Value: []byte(msg.Event)}}
	headers = tracing.InjectKafkaHeaders(ctx, headers)

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := f.producer.WriteMessages(ctx, kafka.Message{
		Topic:   f.topic,
		Key:     []byte(key),
		Value:   msg.Data,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		f.log.Error("kafka forward failed",
			zap.String("display_code", key),
			zap.String("event", msg.Event),
			zap.Error(err),
		)
		return
	}
	f.log.Debug("kafka forwarded", zap.String("display_code", key), zap.String("event", msg.Event))
}
