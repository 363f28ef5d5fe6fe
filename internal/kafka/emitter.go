package kafka

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

// Emitter publishes order envelopes through a Producer.
type Emitter struct {
	Producer *Producer
}

// Emit queues env without blocking the caller beyond the producer's enqueue wait.
func (e *Emitter) Emit(ctx context.Context, topic string, env orders.Envelope) error {
	b, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return e.Producer.Publish(ctx, topic, orders.PartitionKey(env.CorrelationID), b, Headers(env)...)
}

// Headers returns the routing headers carried next to every envelope.
func Headers(env orders.Envelope) []kafka.Header {
	return []kafka.Header{
		{Key: "x-event-type", Value: []byte(env.EventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	}
}
