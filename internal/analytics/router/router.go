package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bazaarline/marketplace-backend/internal/analytics/types"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	Insert(ctx context.Context, rows []types.OrderEventRow) error
}

// Handler receives an envelope plus a decoded event payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type handlerEntry struct {
	factory func() any
	handler Handler
}

// Router dispatches order event envelopes to the handler for their type.
type Router struct {
	handlers map[enums.OutboxEventType]handlerEntry
	logg     *logger.Logger
}

// NewRouter wires the default handlers. Purchase and cash-on-delivery rows
// go through the daily deduper.
func NewRouter(writer Writer, deduper *DailyDeduper, logg *logger.Logger) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if deduper == nil {
		return nil, errors.New("deduper is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	entries := map[enums.OutboxEventType]handlerEntry{
		enums.EventOrderCreated: {
			factory: func() any { return &payloads.OrderCreatedEvent{} },
			handler: &orderCreatedHandler{writer: writer, logg: logg},
		},
		enums.EventOrderPaid: {
			factory: func() any { return &payloads.OrderPaidEvent{} },
			handler: &purchaseHandler{writer: writer, deduper: deduper, logg: logg},
		},
		enums.EventOrderPlacedCOD: {
			factory: func() any { return &payloads.OrderPlacedCODEvent{} },
			handler: &codOrderHandler{writer: writer, deduper: deduper, logg: logg},
		},
		enums.EventOrderExpired: {
			factory: func() any { return &payloads.OrderExpiredEvent{} },
			handler: &orderExpiredHandler{writer: writer, logg: logg},
		},
		enums.EventOrderRefunded: {
			factory: func() any { return &payloads.OrderRefundedEvent{} },
			handler: &refundHandler{writer: writer, logg: logg},
		},
		enums.EventOrderStatusChanged: {
			factory: func() any { return &payloads.OrderStatusChangedEvent{} },
			handler: &statusChangedHandler{writer: writer, logg: logg},
		},
	}

	return &Router{handlers: entries, logg: logg}, nil
}

// Handle dispatches the incoming envelope to the configured handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	entry, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if !envelope.HasPayload() {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload := entry.factory()
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}
	return entry.handler.Handle(ctx, envelope, payload)
}
