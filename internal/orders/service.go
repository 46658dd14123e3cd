package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/internal/inventory"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/outbox"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StockAdjuster applies the seller-side hard commitment on confirm and its
// reversal on cancel.
type StockAdjuster interface {
	Decrement(tx *gorm.DB, productID uuid.UUID, qty int) error
	Increment(tx *gorm.DB, productID uuid.UUID, qty int) error
}

// PaymentHistory reads the settlement rows recorded for an order group.
type PaymentHistory interface {
	History(ctx context.Context, orderCode string) ([]models.PaymentHistory, error)
}

// Service defines order-level operations beyond repository reads.
type Service interface {
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*StatusChangeResult, error)
	GetGroup(ctx context.Context, code string, userID uuid.UUID) (*GroupView, error)
}

type ServiceParams struct {
	Repository Repository
	TxRunner   txRunner
	Outbox     outboxPublisher
	Stock      StockAdjuster
	Payments   PaymentHistory
	Logger     *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	stock    StockAdjuster
	payments PaymentHistory
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the seller order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock adjuster required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment history required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     params.Repository,
		tx:       params.TxRunner,
		outbox:   params.Outbox,
		stock:    params.Stock,
		payments: params.Payments,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*StatusChangeResult, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order code required")
	}
	if input.MerchantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "merchant context missing")
	}
	target, err := enums.ParseOrderStatus(strings.TrimSpace(input.Status))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order status").
			WithDetails(map[string]any{"status": input.Status})
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_code":  code,
		"merchant_id": input.MerchantID.String(),
		"to_status":   string(target),
	})

	var result *StatusChangeResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		lines, err := repo.FindByCodeForMerchant(ctx, code, input.MerchantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order lines")
		}
		if len(lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
				WithDetails(map[string]any{"code": code})
		}

		for _, line := range lines {
			if !line.IsSettled() {
				return pkgerrors.New(pkgerrors.CodeConflict, "order is not settled yet").
					WithDetails(map[string]any{"orderId": line.ID, "status": line.Status})
			}
			if !CanTransition(line.Status, target) {
				return pkgerrors.New(pkgerrors.CodeInvalidTransition,
					fmt.Sprintf("cannot move order from %s to %s", line.Status, target)).
					WithDetails(map[string]any{
						"current":   line.Status,
						"requested": target,
						"allowed":   AllowedTransitions(line.Status),
					})
			}
		}

		now := s.now().UTC()
		for _, line := range lines {
			updates, err := s.adjustStock(tx, line, target)
			if err != nil {
				return err
			}
			err = repo.CompareAndUpdate(ctx, line.ID, StateOf(line), updates)
			if errors.Is(err, ErrClaimLost) {
				return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently, retry").
					WithDetails(map[string]any{"orderId": line.ID})
			}
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
			}
		}

		from := lines[0].Status
		merchantID := input.MerchantID
		event := outbox.OrderGroupEvent(enums.EventOrderStatusChanged, code, &outbox.ActorRef{
			UserID:     input.ActorUserID,
			MerchantID: &merchantID,
			Role:       input.ActorRole,
		}, payloads.OrderStatusChangedEvent{
			Code:       code,
			MerchantID: merchantID,
			UserID:     lines[0].UserID,
			From:       from,
			To:         target,
			ChangedAt:  now,
			Lines:      payloads.LinesFromOrders(lines),
		})
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit status change")
		}

		result = &StatusChangeResult{Code: code, From: from, To: target, LineCount: len(lines), ChangedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "orders.status.updated")
	return result, nil
}

// adjustStock decrements inventory when a line enters confirm and gives it
// back when a cancelled line still holds that decrement. Units consumed at
// settlement stay sold. The returned map is the row update for the line.
func (s *service) adjustStock(tx *gorm.DB, line models.Order, target enums.OrderStatus) (map[string]any, error) {
	updates := map[string]any{"status": target}
	var err error
	switch {
	case target == enums.OrderStatusConfirm:
		err = s.stock.Decrement(tx, line.ProductID, line.Quantity)
		updates["stock_committed"] = true
	case target == enums.OrderStatusCancel && line.StockCommitted:
		err = s.stock.Increment(tx, line.ProductID, line.Quantity)
		updates["stock_committed"] = false
	default:
		return updates, nil
	}
	if errors.Is(err, inventory.ErrInsufficientStock) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "insufficient stock to confirm order").
			WithDetails(map[string]any{"productId": line.ProductID, "requested": line.Quantity})
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust product inventory")
	}
	return updates, nil
}

func (s *service) GetGroup(ctx context.Context, code string, userID uuid.UUID) (*GroupView, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order code required")
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	lines, err := s.repo.FindByCodeForUser(ctx, code, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order group")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	history, err := s.payments.History(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment history")
	}
	view := toGroupView(code, lines)
	view.Payments = toPaymentViews(history, userID)
	return &view, nil
}
