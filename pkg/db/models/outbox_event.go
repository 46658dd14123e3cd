package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

// OutboxEvent is an order lifecycle event committed in the same transaction
// as the row changes it announces. PublishedAt stays nil until the publisher
// delivers it or gives up.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	OrderCode     string                    `gorm:"column:order_code;not null;default:''"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// Pending reports whether the publisher still owes a delivery attempt.
func (e OutboxEvent) Pending() bool { return e.PublishedAt == nil }
