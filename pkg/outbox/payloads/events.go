package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

// OrderLine is the per-product slice of an order group carried on events.
type OrderLine struct {
	OrderID     uuid.UUID `json:"orderId"`
	ProductID   uuid.UUID `json:"productId"`
	MerchantID  uuid.UUID `json:"merchantId"`
	Quantity    int       `json:"quantity"`
	AmountCents int64     `json:"amountCents"`
}

// OrderCreatedEvent is emitted when a reservation creates a pending group.
type OrderCreatedEvent struct {
	Code       string      `json:"code"`
	UserID     uuid.UUID   `json:"userId"`
	TotalCents int64       `json:"totalCents"`
	ExpiresAt  time.Time   `json:"expiresAt"`
	Lines      []OrderLine `json:"lines"`
}

// OrderPaidEvent is emitted once a card payment settled the whole group.
type OrderPaidEvent struct {
	Code            string      `json:"code"`
	UserID          uuid.UUID   `json:"userId"`
	CustomerEmail   string      `json:"customerEmail,omitempty"`
	SessionID       string      `json:"sessionId"`
	PaymentIntentID string      `json:"paymentIntentId,omitempty"`
	TotalCents      int64       `json:"totalCents"`
	PaidAt          time.Time   `json:"paidAt"`
	Lines           []OrderLine `json:"lines"`
}

// OrderRefundedEvent reports a group refunded after a settlement shortfall.
// Failed is set when the provider refused the refund.
type OrderRefundedEvent struct {
	Code            string      `json:"code"`
	UserID          uuid.UUID   `json:"userId"`
	CustomerEmail   string      `json:"customerEmail,omitempty"`
	PaymentIntentID string      `json:"paymentIntentId,omitempty"`
	RefundID        string      `json:"refundId,omitempty"`
	TotalCents      int64       `json:"totalCents"`
	Reason          string      `json:"reason"`
	Failed          bool        `json:"failed"`
	Lines           []OrderLine `json:"lines"`
}

// OrderPlacedCODEvent is emitted when a group is placed as cash on delivery.
type OrderPlacedCODEvent struct {
	Code          string      `json:"code"`
	UserID        uuid.UUID   `json:"userId"`
	CustomerEmail string      `json:"customerEmail,omitempty"`
	TotalCents    int64       `json:"totalCents"`
	PlacedAt      time.Time   `json:"placedAt"`
	Lines         []OrderLine `json:"lines"`
}

// OrderExpiredEvent lists the lines that expired without settlement.
type OrderExpiredEvent struct {
	Code      string      `json:"code"`
	UserID    uuid.UUID   `json:"userId"`
	ExpiredAt time.Time   `json:"expiredAt"`
	Released  int         `json:"releasedUnits"`
	Lines     []OrderLine `json:"lines"`
}

// OrderStatusChangedEvent records a seller-side transition.
type OrderStatusChangedEvent struct {
	Code       string            `json:"code"`
	MerchantID uuid.UUID         `json:"merchantId"`
	UserID     uuid.UUID         `json:"userId"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	ChangedAt  time.Time         `json:"changedAt"`
	Lines      []OrderLine       `json:"lines"`
}

// LinesFromOrders projects order rows onto event lines.
func LinesFromOrders(orders []models.Order) []OrderLine {
	lines := make([]OrderLine, 0, len(orders))
	for _, o := range orders {
		lines = append(lines, OrderLine{
			OrderID:     o.ID,
			ProductID:   o.ProductID,
			MerchantID:  o.MerchantID,
			Quantity:    o.Quantity,
			AmountCents: o.LineTotalCents(),
		})
	}
	return lines
}
