// Package bus publishes outbox events to the message bus and helps
// consumers drop redeliveries.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Message is the record delivered to consumers. Delivery is at-least-once;
// consumers dedupe on ID.
type Message struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	TenantID      string            `json:"tenant_id"`
	AggregateType string            `json:"aggregate_type"`
	AggregateID   string            `json:"aggregate_id"`
	Payload       json.RawMessage   `json:"payload"`
	OccurredAt    time.Time         `json:"occurredAt"`
	Headers       map[string]string `json:"-"`
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

var (
	ErrEmptyMessageID    = errors.New("empty_message_id")
	ErrPublisherClosed   = errors.New("publisher_closed")
	ErrUnsupportedDriver = errors.New("unsupported_bus_driver")
)

func validate(msg Message) error {
	if msg.ID == "" {
		return ErrEmptyMessageID
	}
	return nil
}

// Encode renders msg in its wire form.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
