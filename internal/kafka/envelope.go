package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

// EncodeEnvelope renders env as a message value.
func EncodeEnvelope(env orders.Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.EventType, err)
	}
	return b, nil
}

// DecodeEnvelope parses a message value. An envelope without id or type is rejected.
func DecodeEnvelope(value []byte) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return orders.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventID == "" || env.EventType == "" {
		return orders.Envelope{}, fmt.Errorf("decode envelope: missing event id or type")
	}
	return env, nil
}

// UnwrapPayload decodes an envelope payload into T.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
