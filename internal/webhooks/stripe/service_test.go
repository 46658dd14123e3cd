package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/bazaarline/marketplace-backend/internal/settlement"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

type stubConfirmer struct {
	sessions []string
	err      error
}

func (s *stubConfirmer) ConfirmPayment(_ context.Context, sessionID string) (*settlement.PaymentResult, error) {
	s.sessions = append(s.sessions, sessionID)
	if s.err != nil {
		return nil, s.err
	}
	return &settlement.PaymentResult{Status: settlement.StatusPaid, OrderCode: "ORD-1"}, nil
}

func sessionEvent(t *testing.T, eventType stripe.EventType, session stripe.CheckoutSession) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return &stripe.Event{ID: "evt_1", Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

func TestHandleEventSettlesCompletedSession(t *testing.T) {
	confirmer := &stubConfirmer{}
	svc, err := NewService(confirmer, logger.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_test_1",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
	})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(confirmer.sessions) != 1 || confirmer.sessions[0] != "cs_test_1" {
		t.Fatalf("expected settlement for cs_test_1, got %v", confirmer.sessions)
	}
}

func TestHandleEventSkipsUnpaidAndOtherEvents(t *testing.T) {
	confirmer := &stubConfirmer{}
	svc, _ := NewService(confirmer, logger.Nop())

	unpaid := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_test_2",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
	})
	if err := svc.HandleEvent(context.Background(), unpaid); err != nil {
		t.Fatalf("unpaid session: %v", err)
	}
	other := sessionEvent(t, stripe.EventTypeCheckoutSessionExpired, stripe.CheckoutSession{ID: "cs_test_3"})
	if err := svc.HandleEvent(context.Background(), other); err != nil {
		t.Fatalf("expired session: %v", err)
	}
	if len(confirmer.sessions) != 0 {
		t.Fatalf("expected no settlement, got %v", confirmer.sessions)
	}
}

func TestHandleEventPropagatesSettlementError(t *testing.T) {
	confirmer := &stubConfirmer{err: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	svc, _ := NewService(confirmer, logger.Nop())
	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_test_4",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
	})
	if err := svc.HandleEvent(context.Background(), event); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestHandleEventRejectsEmptyData(t *testing.T) {
	svc, _ := NewService(&stubConfirmer{}, logger.Nop())
	if err := svc.HandleEvent(context.Background(), &stripe.Event{}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type memoryStore struct {
	values map[string]string
	err    error
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) { return m.values[key], nil }

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = "1"
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "bl:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func TestIdempotencyGuard(t *testing.T) {
	store := &memoryStore{values: map[string]string{}}
	guard, err := NewIdempotencyGuard(store, 0, "stripe-webhook")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()
	if seen, err := guard.CheckAndMark(ctx, "evt_1"); err != nil || seen {
		t.Fatalf("first delivery: seen=%v err=%v", seen, err)
	}
	if seen, _ := guard.CheckAndMark(ctx, "evt_1"); !seen {
		t.Fatal("expected replay detected")
	}
	if err := guard.Delete(ctx, "evt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if seen, _ := guard.CheckAndMark(ctx, "evt_1"); seen {
		t.Fatal("expected id forgotten after delete")
	}
	if _, err := guard.CheckAndMark(ctx, ""); err == nil {
		t.Fatal("expected error for empty id")
	}

	store.err = errors.New("redis down")
	if _, err := guard.CheckAndMark(ctx, "evt_2"); err == nil {
		t.Fatal("expected store error")
	}
}
