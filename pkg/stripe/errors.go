package stripe

import (
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
)

// ClassifyError maps a provider error onto the payment error codes:
// 429 is rate limiting, 5xx and api_error mean the provider is unavailable and
// everything else (card declines, invalid requests, missing sessions) is a
// plain payment error.
func ClassifyError(err error, op string) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodePaymentUnavailable, err, op+" failed")
	}

	details := map[string]any{
		"type": string(stripeErr.Type),
		"code": string(stripeErr.Code),
	}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
		return pkgerrors.Wrap(pkgerrors.CodePaymentRateLimit, err, "payment provider is rate limiting requests").WithDetails(details)
	case stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.Type == stripe.ErrorTypeAPI:
		return pkgerrors.Wrap(pkgerrors.CodePaymentUnavailable, err, "payment provider unavailable").WithDetails(details)
	default:
		msg := stripeErr.Msg
		if msg == "" {
			msg = op + " rejected by payment provider"
		}
		return pkgerrors.Wrap(pkgerrors.CodePayment, err, msg).WithDetails(details)
	}
}
