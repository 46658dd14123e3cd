package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/pkg/db"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

// ErrAlreadyCredited is returned when the group already produced income rows.
var ErrAlreadyCredited = errors.New("order group already credited")

// Service credits merchants for settled order groups.
type Service interface {
	CreditSettlement(ctx context.Context, tx *gorm.DB, input CreditInput) ([]models.PaymentHistory, error)
	History(ctx context.Context, orderCode string) ([]models.PaymentHistory, error)
}

type service struct {
	repo Repository
}

// CreditInput carries the per-merchant amounts of one settled group.
type CreditInput struct {
	OrderCode     string
	CustomerID    uuid.UUID
	PaymentMethod enums.PaymentMethod
	AmountsCents  map[uuid.UUID]int64
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// CreditSettlement writes one income row per merchant and bumps its balance,
// all on tx. The unique (order_code, merchant_id, status) index turns a second
// credit for the same group into ErrAlreadyCredited.
func (s *service) CreditSettlement(ctx context.Context, tx *gorm.DB, input CreditInput) ([]models.PaymentHistory, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if input.OrderCode == "" {
		return nil, fmt.Errorf("order code is required")
	}
	if input.CustomerID == uuid.Nil {
		return nil, fmt.Errorf("customer id is required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, fmt.Errorf("invalid payment method %q", input.PaymentMethod)
	}

	repo := s.repo.WithTx(tx)
	entries := make([]models.PaymentHistory, 0, len(input.AmountsCents))
	// Fixed order keeps concurrent settlements from deadlocking on merchants.
	for _, merchantID := range sortedMerchants(input.AmountsCents) {
		amount := input.AmountsCents[merchantID]
		if amount <= 0 {
			return nil, fmt.Errorf("credit for merchant %s must be positive", merchantID)
		}
		entry := models.PaymentHistory{
			CustomerID:    input.CustomerID,
			MerchantID:    merchantID,
			OrderCode:     input.OrderCode,
			PaymentMethod: input.PaymentMethod,
			AmountCents:   amount,
			Status:        enums.PaymentHistoryIncome,
		}
		if err := repo.CreateHistory(ctx, &entry); err != nil {
			if db.IsUniqueViolation(err, "") {
				return nil, ErrAlreadyCredited
			}
			return nil, err
		}
		if err := repo.CreditBalance(ctx, merchantID, amount); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *service) History(ctx context.Context, orderCode string) ([]models.PaymentHistory, error) {
	if orderCode == "" {
		return nil, fmt.Errorf("order code is required")
	}
	return s.repo.ListHistoryByOrderCode(ctx, orderCode)
}

func sortedMerchants(amounts map[uuid.UUID]int64) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(amounts))
	for id := range amounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}
