package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

// Product is a merchant listing together with its stock counters. Counters are
// only touched through conditional updates in the inventory ledger.
type Product struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MerchantID        uuid.UUID           `gorm:"column:merchant_id;type:uuid;not null"`
	Name              string              `gorm:"column:name;not null"`
	Images            pq.StringArray      `gorm:"column:images;type:text[];not null;default:'{}'"`
	PriceCents        int64               `gorm:"column:price_cents;not null"`
	ShippingCents     int64               `gorm:"column:shipping_cents;not null;default:0"`
	Inventory         int                 `gorm:"column:inventory;not null;default:0"`
	ReservedInventory int                 `gorm:"column:reserved_inventory;not null;default:0"`
	SoldCount         int                 `gorm:"column:sold_count;not null;default:0"`
	Status            enums.ProductStatus `gorm:"column:status;type:product_status;not null;default:'active'"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// MissingCheckoutFields lists the listing fields a payment session cannot be
// opened without.
func (p Product) MissingCheckoutFields() []string {
	missing := []string{}
	if p.Name == "" {
		missing = append(missing, "name")
	}
	if len(p.Images) == 0 || p.Images[0] == "" {
		missing = append(missing, "images")
	}
	if p.PriceCents <= 0 {
		missing = append(missing, "price")
	}
	return missing
}
