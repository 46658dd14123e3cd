package settlement

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/internal/checkout/helpers"
	"github.com/bazaarline/marketplace-backend/internal/inventory"
	"github.com/bazaarline/marketplace-backend/internal/ledger"
	"github.com/bazaarline/marketplace-backend/internal/orders"
	"github.com/bazaarline/marketplace-backend/internal/realtime"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
	"github.com/bazaarline/marketplace-backend/pkg/money"
	"github.com/bazaarline/marketplace-backend/pkg/outbox"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
	"github.com/bazaarline/marketplace-backend/pkg/stripe"
)

const reasonNotPayable = "order is no longer open for payment"

// ConfirmPayment settles the group behind a paid checkout session. It is safe
// to call repeatedly for the same session: only the first call credits.
func (s *service) ConfirmPayment(ctx context.Context, sessionID string) (*PaymentResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	ctx = s.logg.WithField(ctx, "session_id", sessionID)

	session, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePayment, err, "payment session not found")
	}
	if !session.IsPaid() {
		return nil, pkgerrors.New(pkgerrors.CodePayment, "payment has not been completed").
			WithDetails(map[string]any{"paymentStatus": session.PaymentStatus})
	}
	code := strings.TrimSpace(session.Metadata[stripe.MetadataOrderCode])
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodePayment, "payment session is not linked to an order")
	}
	ctx = s.logg.WithOrderCode(ctx, code)

	for attempt := 0; attempt < claimAttempts; attempt++ {
		lines, err := s.repo.FindByCode(ctx, code)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load orders")
		}
		if len(lines) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no orders found for this payment")
		}
		totals := helpers.ComputeTotals(lines)
		if outcome := recordedOutcome(code, lines, totals); outcome != nil {
			s.logg.Info(s.logg.WithField(ctx, "status", outcome.Status), "settlement.payment.replayed")
			return outcome, nil
		}

		result, err := s.settle(ctx, session, code, lines, totals)
		if errors.Is(err, orders.ErrClaimLost) {
			s.logg.Debug(ctx, "settlement.payment.claim_lost")
			continue
		}
		return result, err
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is being processed, please retry")
}

// recordedOutcome answers a repeated confirmation from what the rows already
// say. Nil means the group still needs settling.
func recordedOutcome(code string, lines []models.Order, totals helpers.GroupTotals) *PaymentResult {
	for _, line := range lines {
		if line.IsPaid {
			return &PaymentResult{
				Status:      StatusAlreadyProcessed,
				OrderCode:   code,
				TotalAmount: money.Cents(totals.TotalCents).Major(),
				Message:     "payment already processed",
			}
		}
	}
	for _, line := range lines {
		if !line.Status.IsRefund() {
			continue
		}
		status := StatusRefunded
		if line.Status == enums.OrderStatusRefundFailed {
			status = StatusRefundFailed
		}
		reason := ""
		if line.RefundReason != nil {
			reason = *line.RefundReason
		}
		return &PaymentResult{
			Status:      status,
			OrderCode:   code,
			TotalAmount: money.Cents(totals.TotalCents).Major(),
			Reason:      reason,
		}
	}
	return nil
}

// payable reports whether a card payment can still settle the line. Expired
// lines are accepted because the buyer paid before the provider closed the
// session.
func payable(line models.Order) bool {
	if line.IsPaid {
		return false
	}
	return line.Status == enums.OrderStatusPending || line.Status == enums.OrderStatusExpired
}

// refundUnpayable returns the payment of a group that settled another way.
// The rows are left alone, so a refund already recorded for the same payment
// intent is answered from the outbox instead of asking the provider again.
func (s *service) refundUnpayable(ctx context.Context, session *stripe.Session, code string, lines []models.Order, totals helpers.GroupTotals) (*PaymentResult, error) {
	prior, err := s.refunds.FindRefund(ctx, code, session.PaymentIntentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up recorded refund")
	}
	if prior != nil {
		s.logg.Info(s.logg.WithField(ctx, "refund_id", prior.RefundID), "settlement.refund.replayed")
		return &PaymentResult{
			Status:      StatusRefunded,
			OrderCode:   code,
			TotalAmount: money.Cents(totals.TotalCents).Major(),
			Reason:      prior.Reason,
		}, nil
	}
	return s.refund(ctx, session, code, lines, totals, reasonNotPayable, false)
}

func (s *service) settle(ctx context.Context, session *stripe.Session, code string, lines []models.Order, totals helpers.GroupTotals) (*PaymentResult, error) {
	for _, line := range lines {
		if !payable(line) {
			s.logg.Warn(s.logg.WithField(ctx, "status", line.Status), "settlement.payment.not_payable")
			return s.refundUnpayable(ctx, session, code, lines, totals)
		}
	}

	now := s.now().UTC()
	var reason string
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var short []models.Order
		for _, line := range lines {
			err := repo.CompareAndUpdate(ctx, line.ID, orders.StateOf(line), map[string]any{
				"is_paid":            true,
				"status":             enums.OrderStatusConfirm,
				"paid_at":            now,
				"payment":            enums.PaymentMethodStripe,
				"payment_intent_id":  nullable(session.PaymentIntentID),
				"stripe_session_id":  session.ID,
				"inventory_reserved": false,
			})
			if err != nil {
				if errors.Is(err, orders.ErrClaimLost) {
					return err
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim order line")
			}
			if err := s.takeStock(tx, line); err != nil {
				if errors.Is(err, inventory.ErrInsufficientStock) {
					short = append(short, line)
					continue
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commit inventory")
			}
		}
		if len(short) > 0 {
			reason = s.shortfallReason(tx, short)
			return errShortfall
		}

		_, err := s.ledger.CreditSettlement(ctx, tx, ledger.CreditInput{
			OrderCode:     code,
			CustomerID:    lines[0].UserID,
			PaymentMethod: enums.PaymentMethodStripe,
			AmountsCents:  merchantAmounts(lines),
		})
		if err != nil {
			if errors.Is(err, ledger.ErrAlreadyCredited) {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit merchants")
		}
		if _, err := s.stock.MarkDepleted(tx, productIDsOf(lines)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark depleted products")
		}

		event := outbox.OrderGroupEvent(enums.EventOrderPaid, code, &outbox.ActorRef{
			UserID: lines[0].UserID,
			Role:   string(enums.UserRoleCustomer),
		}, payloads.OrderPaidEvent{
			Code:            code,
			UserID:          lines[0].UserID,
			CustomerEmail:   lines[0].CustomerEmail,
			SessionID:       session.ID,
			PaymentIntentID: session.PaymentIntentID,
			TotalCents:      totals.TotalCents,
			PaidAt:          now,
			Lines:           payloads.LinesFromOrders(lines),
		})
		return s.outbox.Emit(ctx, tx, event)
	})

	switch {
	case err == nil:
		s.logg.Info(s.logg.WithField(ctx, "total_cents", totals.TotalCents), "settlement.payment.settled")
		s.afterCommit(ctx, code, lines, realtime.NotificationOrderPaid, "new paid order "+code)
		return &PaymentResult{
			Status:      StatusPaid,
			OrderCode:   code,
			TotalAmount: money.Cents(totals.TotalCents).Major(),
			Message:     "payment confirmed",
		}, nil
	case errors.Is(err, ledger.ErrAlreadyCredited):
		return &PaymentResult{
			Status:      StatusAlreadyProcessed,
			OrderCode:   code,
			TotalAmount: money.Cents(totals.TotalCents).Major(),
			Message:     "payment already processed",
		}, nil
	case errors.Is(err, errShortfall):
		s.logg.Warn(s.logg.WithField(ctx, "reason", reason), "settlement.payment.shortfall")
		return s.refund(ctx, session, code, lines, totals, reason, true)
	default:
		return nil, err
	}
}

// takeStock consumes the line's units: reserved units are committed, anything
// else is sold straight from inventory.
func (s *service) takeStock(tx *gorm.DB, line models.Order) error {
	if line.InventoryReserved {
		return s.stock.CommitReserved(tx, line.ProductID, line.Quantity)
	}
	return s.stock.Sell(tx, line.ProductID, line.Quantity)
}

func (s *service) shortfallReason(tx *gorm.DB, short []models.Order) string {
	names := make([]string, 0, len(short))
	products, err := s.products.FindByIDs(tx, productIDsOf(short))
	for _, line := range short {
		if p, ok := products[line.ProductID]; ok && err == nil {
			names = append(names, p.Name)
			continue
		}
		names = append(names, line.ProductID.String())
	}
	sort.Strings(names)
	return "insufficient stock for " + strings.Join(names, ", ")
}

// refund compensates a captured payment that cannot be honoured. When
// markRows is set the group is moved to refund first, returning any units it
// still holds in reservation.
func (s *service) refund(ctx context.Context, session *stripe.Session, code string, lines []models.Order, totals helpers.GroupTotals, reason string, markRows bool) (*PaymentResult, error) {
	if markRows {
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			for _, line := range lines {
				err := repo.CompareAndUpdate(ctx, line.ID, orders.StateOf(line), map[string]any{
					"status":             enums.OrderStatusRefund,
					"refund_reason":      reason,
					"payment":            enums.PaymentMethodStripe,
					"payment_intent_id":  nullable(session.PaymentIntentID),
					"stripe_session_id":  session.ID,
					"inventory_reserved": false,
				})
				if err != nil {
					if errors.Is(err, orders.ErrClaimLost) {
						return err
					}
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
				}
				if !line.InventoryReserved {
					continue
				}
				if err := s.stock.Release(tx, line.ProductID, line.Quantity); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release inventory")
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	status := StatusRefunded
	refundID, refundErr := s.gateway.Refund(ctx, stripe.RefundRequest{
		PaymentIntentID: session.PaymentIntentID,
		OrderCode:       code,
		Reason:          reason,
	})
	if refundErr != nil {
		status = StatusRefundFailed
		s.logg.Error(ctx, "settlement.refund.failed", refundErr)
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		eventType := enums.EventOrderRefunded
		if refundErr != nil {
			eventType = enums.EventOrderRefundFailed
			if markRows {
				if _, err := s.repo.WithTx(tx).UpdateByCode(ctx, code, map[string]any{
					"status": enums.OrderStatusRefundFailed,
				}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refund failed")
				}
			}
		}
		event := outbox.OrderGroupEvent(eventType, code, nil, payloads.OrderRefundedEvent{
			Code:            code,
			UserID:          lines[0].UserID,
			CustomerEmail:   lines[0].CustomerEmail,
			PaymentIntentID: session.PaymentIntentID,
			RefundID:        refundID,
			TotalCents:      totals.TotalCents,
			Reason:          reason,
			Failed:          refundErr != nil,
			Lines:           payloads.LinesFromOrders(lines),
		})
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	if markRows {
		s.cancelExpiry(ctx, code)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"status": status, "refund_id": refundID}), "settlement.refund.done")
	return &PaymentResult{
		Status:      status,
		OrderCode:   code,
		TotalAmount: money.Cents(totals.TotalCents).Major(),
		Reason:      reason,
	}, nil
}

func merchantAmounts(lines []models.Order) map[uuid.UUID]int64 {
	byMerchant := helpers.ComputeTotalsByMerchant(lines)
	out := make(map[uuid.UUID]int64, len(byMerchant))
	for merchantID, totals := range byMerchant {
		out[merchantID] = totals.TotalCents
	}
	return out
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
