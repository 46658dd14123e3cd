package stripe

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want pkgerrors.Code
	}{
		{"rate limited", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, pkgerrors.CodePaymentRateLimit},
		{"server error", &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, pkgerrors.CodePaymentUnavailable},
		{"api error type", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Type: stripe.ErrorTypeAPI}, pkgerrors.CodePaymentUnavailable},
		{"card declined", &stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Type: stripe.ErrorTypeCard, Msg: "Your card was declined."}, pkgerrors.CodePayment},
		{"invalid request", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Type: stripe.ErrorTypeInvalidRequest}, pkgerrors.CodePayment},
		{"network", errors.New("dial tcp: timeout"), pkgerrors.CodePaymentUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := pkgerrors.As(ClassifyError(tc.err, "create checkout session"))
			if got == nil || got.Code() != tc.want {
				t.Fatalf("expected %s, got %v", tc.want, got)
			}
		})
	}
	if ClassifyError(nil, "noop") != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestClassifyErrorKeepsCardMessage(t *testing.T) {
	err := ClassifyError(&stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Type: stripe.ErrorTypeCard, Msg: "Your card was declined."}, "op")
	if msg := pkgerrors.As(err).Message(); msg != "Your card was declined." {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestToSessionMapsPaymentIntent(t *testing.T) {
	s := toSession(&stripe.CheckoutSession{
		ID:            "cs_test_1",
		URL:           "https://checkout.stripe.com/c/pay/cs_test_1",
		Status:        stripe.CheckoutSessionStatusComplete,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
		ExpiresAt:     1700000000,
		Metadata:      map[string]string{MetadataOrderCode: "ORD-1"},
	})
	if !s.IsPaid() || s.IsOpen() {
		t.Fatalf("expected paid, non-open session: %+v", s)
	}
	if s.PaymentIntentID != "pi_1" || s.Metadata[MetadataOrderCode] != "ORD-1" {
		t.Fatalf("unexpected mapping %+v", s)
	}
	if s.ExpiresAt.Unix() != 1700000000 {
		t.Fatalf("unexpected expiry %v", s.ExpiresAt)
	}
}

func TestNormalizeEnvAndKeys(t *testing.T) {
	if env, err := normalizeEnv(""); err != nil || env != testEnv {
		t.Fatalf("expected default test env, got %q err=%v", env, err)
	}
	if _, err := normalizeEnv("staging"); err == nil {
		t.Fatalf("expected invalid env error")
	}
	if err := validateAPIKey(testEnv, "sk_live_123"); err == nil {
		t.Fatalf("expected live key rejected in test env")
	}
	if err := validateAPIKey(liveEnv, "rk_live_123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
