// Package notifications turns order events from the notification topic into
// customer and merchant emails.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/outbox"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/idempotency"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
)

const orderNotificationConsumer = "order-notifications"

type merchantDirectory interface {
	FindMerchants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Merchant, error)
}

type onceRunner interface {
	Once(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) error
}

// Consumer watches order events and emails the people involved.
type Consumer struct {
	subscription *pubsub.Subscriber
	mailer       Mailer
	merchants    merchantDirectory
	idempotency  onceRunner
	logg         *logger.Logger
}

// NewConsumer builds the order notification consumer.
func NewConsumer(subscription *pubsub.Subscriber, mailer Mailer, merchants merchantDirectory, manager onceRunner, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if mailer == nil {
		return nil, fmt.Errorf("mailer required")
	}
	if merchants == nil {
		return nil, fmt.Errorf("merchant directory required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: subscription,
		mailer:       mailer,
		merchants:    merchants,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	switch eventType {
	case enums.EventOrderPaid, enums.EventOrderPlacedCOD, enums.EventOrderRefunded, enums.EventOrderRefundFailed:
	default:
		c.logg.Debug(logCtx, "skipping event without notification")
		return processResult{}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{}
	}
	logCtx = c.logg.WithOrderCode(logCtx, envelope.OrderCode)

	err = c.idempotency.Once(logCtx, orderNotificationConsumer, eventID, func(ctx context.Context) error {
		return c.handle(ctx, eventType, envelope.Data)
	})
	switch {
	case err == nil:
		c.logg.Info(logCtx, "order notification sent")
		return processResult{}
	case errors.Is(err, idempotency.ErrAlreadyProcessed):
		c.logg.Info(logCtx, "event already processed")
		return processResult{}
	case errors.Is(err, errMalformed):
		c.logg.Warn(logCtx, "dropping malformed notification event", err)
		return processResult{}
	default:
		c.logg.Error(logCtx, "notification handling failed", err)
		return processResult{nack: true}
	}
}

var errMalformed = errors.New("malformed notification payload")

func (c *Consumer) handle(ctx context.Context, eventType enums.OutboxEventType, data json.RawMessage) error {
	switch eventType {
	case enums.EventOrderPaid:
		var event payloads.OrderPaidEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		if event.CustomerEmail == "" {
			c.logg.Warn(ctx, "order paid without customer email")
			return nil
		}
		email, err := paymentConfirmation(&event)
		if err != nil {
			return err
		}
		return c.mailer.Send(ctx, email)

	case enums.EventOrderRefunded, enums.EventOrderRefundFailed:
		var event payloads.OrderRefundedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		if event.CustomerEmail == "" {
			c.logg.Warn(ctx, "refund without customer email")
			return nil
		}
		email, err := refundNotice(&event)
		if err != nil {
			return err
		}
		return c.mailer.Send(ctx, email)

	case enums.EventOrderPlacedCOD:
		var event payloads.OrderPlacedCODEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		return c.notifyMerchants(ctx, &event)
	}
	return nil
}

// notifyMerchants sends every merchant in the group its own lines. A failed
// send retries the whole event, so earlier merchants may get a duplicate.
func (c *Consumer) notifyMerchants(ctx context.Context, event *payloads.OrderPlacedCODEvent) error {
	byMerchant := make(map[uuid.UUID][]payloads.OrderLine)
	for _, line := range event.Lines {
		byMerchant[line.MerchantID] = append(byMerchant[line.MerchantID], line)
	}
	ids := make([]uuid.UUID, 0, len(byMerchant))
	for id := range byMerchant {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	merchants, err := c.merchants.FindMerchants(ctx, ids)
	if err != nil {
		return fmt.Errorf("load merchants: %w", err)
	}
	for _, id := range ids {
		merchant, ok := merchants[id]
		if !ok || merchant.Email == "" {
			c.logg.Warn(c.logg.WithMerchantID(ctx, id.String()), "merchant has no email address")
			continue
		}
		email, err := codOrderForMerchant(merchant.Email, event, byMerchant[id])
		if err != nil {
			return err
		}
		if err := c.mailer.Send(ctx, email); err != nil {
			return err
		}
	}
	return nil
}
