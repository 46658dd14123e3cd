package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	UserID     uuid.UUID  `json:"userId"`
	MerchantID *uuid.UUID `json:"merchantId,omitempty"`
	Role       string     `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OrderCode  string          `json:"orderCode,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// groupNamespace seeds the deterministic aggregate id of an order group.
var groupNamespace = uuid.MustParse("5b0c4a52-8c1f-4f5e-9a59-2f7c1b9d3e10")

// GroupAggregateID maps an order-group code to a stable aggregate UUID so every
// event of the same group shares one aggregate_id.
func GroupAggregateID(code string) uuid.UUID {
	return uuid.NewSHA1(groupNamespace, []byte(code))
}
