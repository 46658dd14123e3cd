package router

import (
	"context"
	"fmt"

	"github.com/bazaarline/marketplace-backend/internal/analytics/types"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
)

// purchaseHandler writes one purchase row per product and day. Later paid
// groups containing the same product that day are not counted again.
type purchaseHandler struct {
	writer  Writer
	deduper *DailyDeduper
	logg    *logger.Logger
}

func (h *purchaseHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderPaidEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_paid")
	}
	day := event.PaidAt
	if day.IsZero() {
		day = envelope.OccurredAt
	}

	var (
		rows    []types.OrderEventRow
		claimed []string
	)
	for _, line := range event.Lines {
		key, err := h.deduper.Claim(ctx, string(enums.AnalyticsEventPurchase), day, line.ProductID.String())
		if err != nil {
			_ = h.deduper.Forget(ctx, claimed...)
			return fmt.Errorf("dedupe purchase %s: %w", line.ProductID, err)
		}
		if key == "" {
			continue
		}
		claimed = append(claimed, key)
		rows = append(rows, buildRow(envelope, enums.AnalyticsEventPurchase, event.Code, event.UserID, line))
	}
	return insertClaimed(ctx, h.writer, h.deduper, h.logg, envelope, rows, claimed)
}

// codOrderHandler writes one cod_order row per product, customer and day.
type codOrderHandler struct {
	writer  Writer
	deduper *DailyDeduper
	logg    *logger.Logger
}

func (h *codOrderHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderPlacedCODEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_placed_cod")
	}
	day := event.PlacedAt
	if day.IsZero() {
		day = envelope.OccurredAt
	}

	var (
		rows    []types.OrderEventRow
		claimed []string
	)
	for _, line := range event.Lines {
		key, err := h.deduper.Claim(ctx, string(enums.AnalyticsEventCODOrder), day, line.ProductID.String(), event.UserID.String())
		if err != nil {
			_ = h.deduper.Forget(ctx, claimed...)
			return fmt.Errorf("dedupe cod order %s: %w", line.ProductID, err)
		}
		if key == "" {
			continue
		}
		claimed = append(claimed, key)
		rows = append(rows, buildRow(envelope, enums.AnalyticsEventCODOrder, event.Code, event.UserID, line))
	}
	return insertClaimed(ctx, h.writer, h.deduper, h.logg, envelope, rows, claimed)
}

// insertClaimed writes rows and gives the dedupe claims back when the insert
// fails so the redelivery can count them.
func insertClaimed(ctx context.Context, w Writer, deduper *DailyDeduper, logg *logger.Logger, envelope types.Envelope, rows []types.OrderEventRow, claimed []string) error {
	err := insert(ctx, w, logg, envelope, rows)
	if err == nil {
		return nil
	}
	if forgetErr := deduper.Forget(ctx, claimed...); forgetErr != nil {
		logg.Warn(ctx, "failed to release analytics dedupe keys", forgetErr)
	}
	return err
}
