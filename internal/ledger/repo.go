package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/internal/repo"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
)

// ErrMerchantNotFound is returned when a credit targets an unknown merchant.
var ErrMerchantNotFound = errors.New("merchant not found")

// Repository manages merchant balances and their payment history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreditBalance(ctx context.Context, merchantID uuid.UUID, amountCents int64) error
	CreateHistory(ctx context.Context, entry *models.PaymentHistory) error
	ListHistoryByOrderCode(ctx context.Context, code string) ([]models.PaymentHistory, error)
	FindMerchants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Merchant, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

// CreditBalance increments the balance in place so concurrent credits never
// lose an update.
func (r *repository) CreditBalance(ctx context.Context, merchantID uuid.UUID, amountCents int64) error {
	res := r.DB(ctx).
		Model(&models.Merchant{}).
		Where("id = ?", merchantID).
		UpdateColumn("balance_cents", gorm.Expr("balance_cents + ?", amountCents))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMerchantNotFound
	}
	return nil
}

func (r *repository) CreateHistory(ctx context.Context, entry *models.PaymentHistory) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.DB(ctx).Create(entry).Error
}

func (r *repository) ListHistoryByOrderCode(ctx context.Context, code string) ([]models.PaymentHistory, error) {
	var entries []models.PaymentHistory
	if err := r.DB(ctx).
		Where("order_code = ?", code).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) FindMerchants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Merchant, error) {
	out := make(map[uuid.UUID]models.Merchant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Merchant
	if err := r.DB(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, m := range rows {
		out[m.ID] = m
	}
	return out, nil
}
