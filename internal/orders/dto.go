package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	"github.com/bazaarline/marketplace-backend/pkg/money"
)

// UpdateStatusInput carries a merchant's requested transition for its lines
// of an order group.
type UpdateStatusInput struct {
	Code        string
	Status      string
	MerchantID  uuid.UUID
	ActorUserID uuid.UUID
	ActorRole   string
}

// StatusChangeResult is returned after a successful transition.
type StatusChangeResult struct {
	Code      string            `json:"code"`
	From      enums.OrderStatus `json:"from"`
	To        enums.OrderStatus `json:"to"`
	LineCount int               `json:"lineCount"`
	ChangedAt time.Time         `json:"changedAt"`
}

// OrderLineView is a single line of an order group as shown to its buyer.
type OrderLineView struct {
	ID            uuid.UUID            `json:"id"`
	ProductID     uuid.UUID            `json:"productId"`
	MerchantID    uuid.UUID            `json:"merchantId"`
	Quantity      int                  `json:"quantity"`
	Price         string               `json:"price"`
	Shipping      string               `json:"shipping"`
	Total         string               `json:"total"`
	Status        enums.OrderStatus    `json:"status"`
	IsPaid        bool                 `json:"isPaid"`
	Payment       *enums.PaymentMethod `json:"payment,omitempty"`
	PaidAt        *time.Time           `json:"paidAt,omitempty"`
	ExpiredAt     *time.Time           `json:"expiredAt,omitempty"`
	RefundReason  *string              `json:"refundReason,omitempty"`
	ReservedUnits bool                 `json:"inventoryReserved"`
}

// GroupView is the buyer-facing projection of an order group.
type GroupView struct {
	Code       string          `json:"code"`
	Total      string          `json:"total"`
	Shipping   string          `json:"shipping"`
	OrderCount int             `json:"orderCount"`
	CreatedAt  time.Time       `json:"createdAt"`
	Lines      []OrderLineView `json:"lines"`
	Payments   []PaymentView   `json:"payments"`
}

// PaymentView is one settlement credit recorded for the group.
type PaymentView struct {
	MerchantID uuid.UUID                  `json:"merchantId"`
	Method     enums.PaymentMethod        `json:"method"`
	Status     enums.PaymentHistoryStatus `json:"status"`
	Amount     string                     `json:"amount"`
	CreatedAt  time.Time                  `json:"createdAt"`
}

func toGroupView(code string, lines []models.Order) GroupView {
	view := GroupView{Code: code, OrderCount: len(lines), Lines: make([]OrderLineView, 0, len(lines))}
	var total, shipping int64
	for i, line := range lines {
		if i == 0 {
			view.CreatedAt = line.CreatedAt
		}
		total += line.LineTotalCents()
		shipping += line.ShippingTotalCents()
		view.Lines = append(view.Lines, OrderLineView{
			ID:            line.ID,
			ProductID:     line.ProductID,
			MerchantID:    line.MerchantID,
			Quantity:      line.Quantity,
			Price:         money.Cents(line.PriceCents).Major(),
			Shipping:      money.Cents(line.ShippingCents).Major(),
			Total:         money.Cents(line.LineTotalCents()).Major(),
			Status:        line.Status,
			IsPaid:        line.IsPaid,
			Payment:       line.Payment,
			PaidAt:        line.PaidAt,
			ExpiredAt:     line.ExpiredAt,
			RefundReason:  line.RefundReason,
			ReservedUnits: line.InventoryReserved,
		})
	}
	view.Total = money.Cents(total).Major()
	view.Shipping = money.Cents(shipping).Major()
	return view
}

// toPaymentViews keeps the rows recorded for buyer.
func toPaymentViews(history []models.PaymentHistory, buyer uuid.UUID) []PaymentView {
	out := make([]PaymentView, 0, len(history))
	for _, h := range history {
		if h.CustomerID != buyer {
			continue
		}
		out = append(out, PaymentView{
			MerchantID: h.MerchantID,
			Method:     h.PaymentMethod,
			Status:     h.Status,
			Amount:     money.Cents(h.AmountCents).Major(),
			CreatedAt:  h.CreatedAt,
		})
	}
	return out
}
