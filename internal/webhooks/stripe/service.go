// Package stripewebhook turns verified Stripe events into settlement calls.
package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/stripe/stripe-go/v84"

	"github.com/bazaarline/marketplace-backend/internal/settlement"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

type paymentConfirmer interface {
	ConfirmPayment(ctx context.Context, sessionID string) (*settlement.PaymentResult, error)
}

type Service struct {
	settlement paymentConfirmer
	logg       *logger.Logger
}

func NewService(confirmer paymentConfirmer, logg *logger.Logger) (*Service, error) {
	if confirmer == nil {
		return nil, errors.New("settlement service required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Service{settlement: confirmer, logg: logg}, nil
}

// HandleEvent settles completed checkout sessions. Sessions still awaiting an
// asynchronous payment and every other event type are acknowledged untouched.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
		}
		if session.ID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "checkout session id missing")
		}
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			s.logg.Info(ctx, "stripe.webhook.awaiting_payment")
			return nil
		}
		result, err := s.settlement.ConfirmPayment(ctx, session.ID)
		if err != nil {
			return err
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"order_code": result.OrderCode,
			"status":     result.Status,
		}), "stripe.webhook.settled")
		return nil
	default:
		s.logg.Debug(ctx, "stripe.webhook.ignored")
		return nil
	}
}
