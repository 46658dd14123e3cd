package router

import (
	"context"
	"fmt"

	"github.com/bazaarline/marketplace-backend/internal/analytics/types"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
)

type orderCreatedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func (h *orderCreatedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderCreatedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_created")
	}
	rows := buildRows(envelope, enums.AnalyticsEventOrderCreated, event.Code, event.UserID, event.Lines)
	return insert(ctx, h.writer, h.logg, envelope, rows)
}

type orderExpiredHandler struct {
	writer Writer
	logg   *logger.Logger
}

func (h *orderExpiredHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderExpiredEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_expired")
	}
	rows := buildRows(envelope, enums.AnalyticsEventOrderExpired, event.Code, event.UserID, event.Lines)
	return insert(ctx, h.writer, h.logg, envelope, rows)
}

type refundHandler struct {
	writer Writer
	logg   *logger.Logger
}

// Handle records refunds that went through. Failed refunds have their own
// event type and never reach this handler.
func (h *refundHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderRefundedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_refunded")
	}
	if event.Failed {
		return nil
	}
	rows := buildRows(envelope, enums.AnalyticsEventRefund, event.Code, event.UserID, event.Lines)
	return insert(ctx, h.writer, h.logg, envelope, rows)
}

type statusChangedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func (h *statusChangedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderStatusChangedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_status_changed")
	}
	rows := buildRows(envelope, enums.AnalyticsEventStatusChanged, event.Code, event.UserID, event.Lines)
	return insert(ctx, h.writer, h.logg, envelope, rows)
}

func insert(ctx context.Context, w Writer, logg *logger.Logger, envelope types.Envelope, rows []types.OrderEventRow) error {
	logCtx := logg.WithFields(ctx, map[string]any{
		"event_type": envelope.EventType,
		"order_code": envelope.OrderCode,
		"rows":       len(rows),
	})
	if len(rows) == 0 {
		logg.Debug(logCtx, "no analytics rows to insert")
		return nil
	}
	if err := w.Insert(logCtx, rows); err != nil {
		logg.Error(logCtx, "failed to insert order event rows", err)
		return err
	}
	logg.Info(logCtx, "order event rows inserted")
	return nil
}
