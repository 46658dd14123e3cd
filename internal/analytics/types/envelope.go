package types

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

// Envelope is an order event as read off the analytics subscription.
type Envelope struct {
	EventID     string                `json:"event_id"`
	EventType   enums.OutboxEventType `json:"event_type"`
	AggregateID string                `json:"aggregate_id"`
	OrderCode   string                `json:"order_code"`
	OccurredAt  time.Time             `json:"occurred_at"`
	Payload     json.RawMessage       `json:"payload"`
}

// HasPayload reports whether the envelope carries a non-null data object.
func (e Envelope) HasPayload() bool {
	trimmed := bytes.TrimSpace(e.Payload)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
