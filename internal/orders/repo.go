package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/internal/repo"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

type repository struct {
	repo.Base
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) CreateBatch(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	for i := range orders {
		if orders[i].ID == uuid.Nil {
			orders[i].ID = uuid.New()
		}
	}
	return r.DB(ctx).Create(&orders).Error
}

func (r *repository) FindByCode(ctx context.Context, code string) ([]models.Order, error) {
	return r.find(ctx, r.Conn().Where("code = ?", code))
}

func (r *repository) FindByCodeForUser(ctx context.Context, code string, userID uuid.UUID) ([]models.Order, error) {
	return r.find(ctx, r.Conn().Where("code = ? AND user_id = ?", code, userID))
}

// FindPendingByCode returns the caller's lines still awaiting payment.
func (r *repository) FindPendingByCode(ctx context.Context, code string, userID uuid.UUID) ([]models.Order, error) {
	return r.find(ctx, r.Conn().Where("code = ? AND user_id = ? AND status = ? AND is_paid = ?",
		code, userID, enums.OrderStatusPending, false))
}

// FindPendingUnpaidByCode is the ownerless variant used by background sweeps.
func (r *repository) FindPendingUnpaidByCode(ctx context.Context, code string) ([]models.Order, error) {
	return r.find(ctx, r.Conn().Where("code = ? AND status = ? AND is_paid = ?", code, enums.OrderStatusPending, false))
}

func (r *repository) FindByCodeForMerchant(ctx context.Context, code string, merchantID uuid.UUID) ([]models.Order, error) {
	return r.find(ctx, r.Conn().Where("code = ? AND merchant_id = ?", code, merchantID))
}

// FindStalePendingCodes lists groups created before cutoff that were never
// settled.
func (r *repository) FindStalePendingCodes(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var codes []string
	err := r.DB(ctx).
		Model(&models.Order{}).
		Distinct("code").
		Where("status = ? AND is_paid = ? AND created_at < ?", enums.OrderStatusPending, false, cutoff).
		Limit(limit).
		Pluck("code", &codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// UpdateByCode applies updates to every line of the group.
func (r *repository) UpdateByCode(ctx context.Context, code string, updates map[string]any) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Order{}).
		Where("code = ?", code).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// CompareAndUpdate applies updates only if the row still holds expected.
func (r *repository) CompareAndUpdate(ctx context.Context, orderID uuid.UUID, expected LineState, updates map[string]any) error {
	if orderID == uuid.Nil {
		return errors.New("order id required")
	}
	res := r.DB(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND is_paid = ? AND inventory_reserved = ?",
			orderID, expected.Status, expected.IsPaid, expected.InventoryReserved).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

// DeleteExpiredBefore purges expired lines whose expiry is older than cutoff.
func (r *repository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	ids := r.Conn().Model(&models.Order{}).
		Select("id").
		Where("status = ? AND expired_at IS NOT NULL AND expired_at < ?", enums.OrderStatusExpired, cutoff).
		Limit(limit)
	res := r.DB(ctx).
		Where("id IN (?)", ids).
		Delete(&models.Order{})
	return res.RowsAffected, res.Error
}

func (r *repository) find(ctx context.Context, query *gorm.DB) ([]models.Order, error) {
	var orders []models.Order
	err := query.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
