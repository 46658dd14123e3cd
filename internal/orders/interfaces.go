package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

// ErrClaimLost is returned by CompareAndUpdate when the row no longer matches
// the expected state, i.e. another writer got there first.
var ErrClaimLost = errors.New("order line changed concurrently")

// LineState is the part of an order row every writer claims against.
type LineState struct {
	Status            enums.OrderStatus
	IsPaid            bool
	InventoryReserved bool
}

// StateOf captures the claimable state of a loaded line.
func StateOf(o models.Order) LineState {
	return LineState{Status: o.Status, IsPaid: o.IsPaid, InventoryReserved: o.InventoryReserved}
}

// Repository defines persistence operations for the orders table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateBatch(ctx context.Context, orders []models.Order) error
	FindByCode(ctx context.Context, code string) ([]models.Order, error)
	FindByCodeForUser(ctx context.Context, code string, userID uuid.UUID) ([]models.Order, error)
	FindPendingByCode(ctx context.Context, code string, userID uuid.UUID) ([]models.Order, error)
	FindPendingUnpaidByCode(ctx context.Context, code string) ([]models.Order, error)
	FindByCodeForMerchant(ctx context.Context, code string, merchantID uuid.UUID) ([]models.Order, error)
	FindStalePendingCodes(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	UpdateByCode(ctx context.Context, code string, updates map[string]any) (int64, error)
	CompareAndUpdate(ctx context.Context, orderID uuid.UUID, expected LineState, updates map[string]any) error
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
