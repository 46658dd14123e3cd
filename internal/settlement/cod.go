package settlement

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/internal/checkout/helpers"
	"github.com/bazaarline/marketplace-backend/internal/inventory"
	"github.com/bazaarline/marketplace-backend/internal/orders"
	"github.com/bazaarline/marketplace-backend/internal/realtime"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
	"github.com/bazaarline/marketplace-backend/pkg/outbox"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
)

const codPlacedMessage = "order placed, payment will be collected on delivery"

// ConfirmCashOnDelivery places a pending group as cash on delivery. Stock
// leaves inventory now; merchants are not credited until cash is collected.
func (s *service) ConfirmCashOnDelivery(ctx context.Context, code string, userID uuid.UUID) (*CODResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order code required")
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"order_code": code, "user_id": userID.String()})

	lines, err := s.repo.FindPendingByCode(ctx, code, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending orders")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending orders found for this code")
	}
	now := s.now().UTC()
	if err := helpers.EnsureWithinWindow(lines, now, s.window); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products, err := s.products.FindByIDs(tx, helpers.LineProductIDs(lines))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}
		// Every line is checked before any is mutated.
		for _, line := range lines {
			if err := ensureCODStock(line, products); err != nil {
				return err
			}
		}

		repo := s.repo.WithTx(tx)
		for _, line := range lines {
			err := repo.CompareAndUpdate(ctx, line.ID, orders.StateOf(line), map[string]any{
				"status":             enums.OrderStatusPlaced,
				"payment":            enums.PaymentMethodCOD,
				"inventory_reserved": false,
			})
			if errors.Is(err, orders.ErrClaimLost) {
				return pkgerrors.New(pkgerrors.CodeConflict, "order is being processed, please retry").
					WithDetails(map[string]any{"orderId": line.ID})
			}
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim order line")
			}
			if err := s.sellCOD(tx, line); err != nil {
				if errors.Is(err, inventory.ErrInsufficientStock) {
					name := products[line.ProductID].Name
					return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "insufficient stock for "+name).
						WithDetails(map[string]any{"productId": line.ProductID, "requested": line.Quantity})
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sell inventory")
			}
		}
		if _, err := s.stock.MarkDepleted(tx, productIDsOf(lines)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark depleted products")
		}

		totals := helpers.ComputeTotals(lines)
		event := outbox.OrderGroupEvent(enums.EventOrderPlacedCOD, code, &outbox.ActorRef{
			UserID: userID,
			Role:   string(enums.UserRoleCustomer),
		}, payloads.OrderPlacedCODEvent{
			Code:          code,
			UserID:        userID,
			CustomerEmail: lines[0].CustomerEmail,
			TotalCents:    totals.TotalCents,
			PlacedAt:      now,
			Lines:         payloads.LinesFromOrders(lines),
		})
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "settlement.cod.placed")
	s.afterCommit(ctx, code, lines, realtime.NotificationOrderPlacedCOD, "new cash on delivery order "+code)
	return &CODResult{Message: codPlacedMessage, OrderCode: code}, nil
}

// sellCOD gives back a reservation before selling so the sale re-checks the
// live inventory.
func (s *service) sellCOD(tx *gorm.DB, line models.Order) error {
	if line.InventoryReserved {
		if err := s.stock.Release(tx, line.ProductID, line.Quantity); err != nil {
			return err
		}
	}
	return s.stock.Sell(tx, line.ProductID, line.Quantity)
}

// ensureCODStock counts a reserved line's own units as available.
func ensureCODStock(line models.Order, products map[uuid.UUID]models.Product) error {
	product, ok := products[line.ProductID]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "product is no longer available").
			WithDetails(map[string]any{"productId": line.ProductID})
	}
	if line.InventoryReserved {
		product.Inventory += line.Quantity
	}
	return helpers.EnsureStock(product, line.Quantity)
}
