package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

// PaymentHistory is an append-only audit row for merchant balance movements.
type PaymentHistory struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID    uuid.UUID                  `gorm:"column:customer_id;type:uuid;not null"`
	MerchantID    uuid.UUID                  `gorm:"column:merchant_id;type:uuid;not null"`
	OrderCode     string                     `gorm:"column:order_code;not null"`
	PaymentMethod enums.PaymentMethod        `gorm:"column:payment_method;type:payment_method;not null"`
	AmountCents   int64                      `gorm:"column:amount_cents;not null"`
	Status        enums.PaymentHistoryStatus `gorm:"column:status;type:payment_history_status;not null"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (PaymentHistory) TableName() string {
	return "payment_histories"
}
