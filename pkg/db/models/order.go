package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

// Order is a single product line. Lines sharing Code form one order group and
// move through checkout together.
type Order struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code              string               `gorm:"column:code;not null;index"`
	UserID            uuid.UUID            `gorm:"column:user_id;type:uuid;not null"`
	CustomerEmail     string               `gorm:"column:customer_email"`
	ProductID         uuid.UUID            `gorm:"column:product_id;type:uuid;not null"`
	MerchantID        uuid.UUID            `gorm:"column:merchant_id;type:uuid;not null"`
	Quantity          int                  `gorm:"column:quantity;not null"`
	PriceCents        int64                `gorm:"column:price_cents;not null"`
	ShippingCents     int64                `gorm:"column:shipping_cents;not null;default:0"`
	Status            enums.OrderStatus    `gorm:"column:status;type:order_status;not null;default:'pending'"`
	IsPaid            bool                 `gorm:"column:is_paid;not null;default:false"`
	InventoryReserved bool                 `gorm:"column:inventory_reserved;not null;default:false"`
	StockCommitted    bool                 `gorm:"column:stock_committed;not null;default:false"`
	Payment           *enums.PaymentMethod `gorm:"column:payment;type:payment_method"`
	StripeSessionID   *string              `gorm:"column:stripe_session_id"`
	StripeSessionURL  *string              `gorm:"column:stripe_session_url"`
	SessionExpiresAt  *time.Time           `gorm:"column:session_expires_at"`
	PaymentIntentID   *string              `gorm:"column:payment_intent_id"`
	RefundReason      *string              `gorm:"column:refund_reason"`
	ReservedAt        *time.Time           `gorm:"column:reserved_at"`
	PaidAt            *time.Time           `gorm:"column:paid_at"`
	ExpiredAt         *time.Time           `gorm:"column:expired_at"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// LineTotalCents is (unit price + unit shipping) x quantity.
func (o Order) LineTotalCents() int64 {
	return (o.PriceCents + o.ShippingCents) * int64(o.Quantity)
}

// ShippingTotalCents is unit shipping x quantity.
func (o Order) ShippingTotalCents() int64 {
	return o.ShippingCents * int64(o.Quantity)
}

// IsSettled reports whether the line is paid or committed as cash on delivery.
func (o Order) IsSettled() bool {
	if o.IsPaid {
		return true
	}
	return o.Payment != nil && *o.Payment == enums.PaymentMethodCOD && o.Status != enums.OrderStatusPending
}
