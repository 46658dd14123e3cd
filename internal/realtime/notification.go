// Package realtime pushes order notifications to merchants connected over
// websockets. The registry of live connections is an explicit Hub owned by the
// process; a Redis channel fans notifications out to every API instance.
package realtime

import (
	"time"

	"github.com/google/uuid"
)

const (
	NotificationOrderPaid      = "order_paid"
	NotificationOrderPlacedCOD = "order_placed_cod"
	NotificationConnected      = "connected"
)

// Notification is one message delivered to a merchant socket.
type Notification struct {
	Type       string    `json:"type"`
	MerchantID uuid.UUID `json:"merchantId"`
	OrderCode  string    `json:"orderCode,omitempty"`
	Message    string    `json:"message,omitempty"`
	Data       any       `json:"data,omitempty"`
	SentAt     time.Time `json:"sentAt"`
}
