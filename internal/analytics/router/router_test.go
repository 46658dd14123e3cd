package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/internal/analytics/types"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
)

type fakeWriter struct {
	inserted []types.OrderEventRow
	err      error
}

func (f *fakeWriter) Insert(_ context.Context, rows []types.OrderEventRow) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, rows...)
	return nil
}

type memoryStore struct {
	keys map[string]struct{}
}

func (m *memoryStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

func (m *memoryStore) DedupeKey(parts ...string) string {
	return "bl:dedupe:" + strings.Join(parts, ":")
}

var (
	lampID   = uuid.MustParse("6d1c7c1e-0a57-4f7f-8d43-6a4fb2b1a001")
	rugID    = uuid.MustParse("6d1c7c1e-0a57-4f7f-8d43-6a4fb2b1a002")
	merchant = uuid.MustParse("6d1c7c1e-0a57-4f7f-8d43-6a4fb2b1a0ff")
	buyer    = uuid.MustParse("6d1c7c1e-0a57-4f7f-8d43-6a4fb2b1a0aa")
)

func newTestRouter(t *testing.T) (*Router, *fakeWriter, *memoryStore) {
	t.Helper()
	w := &fakeWriter{}
	store := &memoryStore{keys: map[string]struct{}{}}
	deduper, err := NewDailyDeduper(store, 0)
	if err != nil {
		t.Fatalf("deduper: %v", err)
	}
	r, err := NewRouter(w, deduper, logger.Nop())
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return r, w, store
}

func envelopeFor(t *testing.T, eventType enums.OutboxEventType, code string, payload any) types.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return types.Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OrderCode:  code,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:    raw,
	}
}

func line(product uuid.UUID, qty int, amount int64) payloads.OrderLine {
	return payloads.OrderLine{OrderID: uuid.New(), ProductID: product, MerchantID: merchant, Quantity: qty, AmountCents: amount}
}

func TestOrderCreatedWritesOneRowPerLine(t *testing.T) {
	r, w, _ := newTestRouter(t)
	env := envelopeFor(t, enums.EventOrderCreated, "ORD-1", payloads.OrderCreatedEvent{
		Code:   "ORD-1",
		UserID: buyer,
		Lines:  []payloads.OrderLine{line(lampID, 2, 2200), line(rugID, 1, 5100)},
	})

	if err := r.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(w.inserted) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(w.inserted))
	}
	row := w.inserted[0]
	if row.EventType != string(enums.AnalyticsEventOrderCreated) || row.OrderCode != "ORD-1" {
		t.Fatalf("unexpected row %+v", row)
	}
	if row.ProductID != lampID.String() || row.Quantity != 2 || row.AmountCents != 2200 || row.UserID != buyer.String() {
		t.Fatalf("unexpected line projection %+v", row)
	}
	if !row.Payload.Valid {
		t.Fatal("expected payload json to be stored")
	}
}

func TestPurchaseCountedOncePerProductPerDay(t *testing.T) {
	r, w, _ := newTestRouter(t)
	paidAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := envelopeFor(t, enums.EventOrderPaid, "ORD-1", payloads.OrderPaidEvent{
		Code: "ORD-1", UserID: buyer, PaidAt: paidAt,
		Lines: []payloads.OrderLine{line(lampID, 1, 1100)},
	})
	second := envelopeFor(t, enums.EventOrderPaid, "ORD-2", payloads.OrderPaidEvent{
		Code: "ORD-2", UserID: uuid.New(), PaidAt: paidAt.Add(3 * time.Hour),
		Lines: []payloads.OrderLine{line(lampID, 3, 3300), line(rugID, 1, 5100)},
	})
	nextDay := envelopeFor(t, enums.EventOrderPaid, "ORD-3", payloads.OrderPaidEvent{
		Code: "ORD-3", UserID: buyer, PaidAt: paidAt.Add(24 * time.Hour),
		Lines: []payloads.OrderLine{line(lampID, 1, 1100)},
	})

	for _, env := range []types.Envelope{first, second, nextDay} {
		if err := r.Handle(context.Background(), env); err != nil {
			t.Fatalf("handle %s: %v", env.OrderCode, err)
		}
	}

	if len(w.inserted) != 3 {
		t.Fatalf("expected 3 purchase rows, got %d", len(w.inserted))
	}
	got := []string{w.inserted[0].OrderCode + "/" + w.inserted[0].ProductID, w.inserted[1].OrderCode + "/" + w.inserted[1].ProductID, w.inserted[2].OrderCode}
	want := []string{"ORD-1/" + lampID.String(), "ORD-2/" + rugID.String(), "ORD-3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d: got %s want %s", i, got[i], want[i])
		}
	}
	for _, row := range w.inserted {
		if row.EventType != string(enums.AnalyticsEventPurchase) {
			t.Fatalf("unexpected event type %s", row.EventType)
		}
	}
}

func TestCODOrderDedupedPerCustomer(t *testing.T) {
	r, w, _ := newTestRouter(t)
	placedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	other := uuid.New()

	events := []types.Envelope{
		envelopeFor(t, enums.EventOrderPlacedCOD, "ORD-1", payloads.OrderPlacedCODEvent{Code: "ORD-1", UserID: buyer, PlacedAt: placedAt, Lines: []payloads.OrderLine{line(lampID, 1, 1100)}}),
		envelopeFor(t, enums.EventOrderPlacedCOD, "ORD-2", payloads.OrderPlacedCODEvent{Code: "ORD-2", UserID: buyer, PlacedAt: placedAt, Lines: []payloads.OrderLine{line(lampID, 1, 1100)}}),
		envelopeFor(t, enums.EventOrderPlacedCOD, "ORD-3", payloads.OrderPlacedCODEvent{Code: "ORD-3", UserID: other, PlacedAt: placedAt, Lines: []payloads.OrderLine{line(lampID, 1, 1100)}}),
	}
	for _, env := range events {
		if err := r.Handle(context.Background(), env); err != nil {
			t.Fatalf("handle %s: %v", env.OrderCode, err)
		}
	}

	if len(w.inserted) != 2 {
		t.Fatalf("expected 2 cod rows, got %d", len(w.inserted))
	}
	if w.inserted[0].OrderCode != "ORD-1" || w.inserted[1].OrderCode != "ORD-3" {
		t.Fatalf("unexpected rows %s %s", w.inserted[0].OrderCode, w.inserted[1].OrderCode)
	}
	if w.inserted[1].EventType != string(enums.AnalyticsEventCODOrder) {
		t.Fatalf("unexpected event type %s", w.inserted[1].EventType)
	}
}

func TestFailedInsertReleasesDedupeClaims(t *testing.T) {
	r, w, store := newTestRouter(t)
	w.err = errors.New("bigquery down")
	env := envelopeFor(t, enums.EventOrderPaid, "ORD-1", payloads.OrderPaidEvent{
		Code: "ORD-1", UserID: buyer, PaidAt: time.Now().UTC(),
		Lines: []payloads.OrderLine{line(lampID, 1, 1100), line(rugID, 1, 5100)},
	})

	if err := r.Handle(context.Background(), env); err == nil {
		t.Fatal("expected insert error")
	}
	if len(store.keys) != 0 {
		t.Fatalf("expected claims to be released, got %v", store.keys)
	}

	w.err = nil
	if err := r.Handle(context.Background(), env); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(w.inserted) != 2 {
		t.Fatalf("expected redelivery to write 2 rows, got %d", len(w.inserted))
	}
}

func TestRefundSkipsFailedRefunds(t *testing.T) {
	r, w, _ := newTestRouter(t)
	ok := envelopeFor(t, enums.EventOrderRefunded, "ORD-1", payloads.OrderRefundedEvent{
		Code: "ORD-1", UserID: buyer, Reason: "insufficient stock for Rug",
		Lines: []payloads.OrderLine{line(rugID, 1, 5100)},
	})
	failed := envelopeFor(t, enums.EventOrderRefunded, "ORD-2", payloads.OrderRefundedEvent{
		Code: "ORD-2", UserID: buyer, Failed: true,
		Lines: []payloads.OrderLine{line(rugID, 1, 5100)},
	})

	for _, env := range []types.Envelope{ok, failed} {
		if err := r.Handle(context.Background(), env); err != nil {
			t.Fatalf("handle %s: %v", env.OrderCode, err)
		}
	}
	if len(w.inserted) != 1 || w.inserted[0].EventType != string(enums.AnalyticsEventRefund) {
		t.Fatalf("expected one refund row, got %+v", w.inserted)
	}
}

func TestStatusChangedAndExpiredRows(t *testing.T) {
	r, w, _ := newTestRouter(t)
	changed := envelopeFor(t, enums.EventOrderStatusChanged, "ORD-1", payloads.OrderStatusChangedEvent{
		Code: "ORD-1", MerchantID: merchant, UserID: buyer, From: enums.OrderStatusConfirm, To: enums.OrderStatusProcessing,
		Lines: []payloads.OrderLine{line(lampID, 1, 1100)},
	})
	expired := envelopeFor(t, enums.EventOrderExpired, "ORD-2", payloads.OrderExpiredEvent{
		Code: "ORD-2", UserID: buyer, Released: 2,
		Lines: []payloads.OrderLine{line(rugID, 2, 10200)},
	})

	for _, env := range []types.Envelope{changed, expired} {
		if err := r.Handle(context.Background(), env); err != nil {
			t.Fatalf("handle %s: %v", env.OrderCode, err)
		}
	}
	if len(w.inserted) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(w.inserted))
	}
	if w.inserted[0].EventType != string(enums.AnalyticsEventStatusChanged) || w.inserted[1].EventType != string(enums.AnalyticsEventOrderExpired) {
		t.Fatalf("unexpected event types %s %s", w.inserted[0].EventType, w.inserted[1].EventType)
	}
}

func TestHandleRejectsUnknownAndEmptyEvents(t *testing.T) {
	r, _, _ := newTestRouter(t)

	err := r.Handle(context.Background(), types.Envelope{EventType: enums.EventOrderRefundFailed, Payload: []byte(`{}`)})
	if !errors.Is(err, ErrUnsupportedEventType) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	if err := r.Handle(context.Background(), types.Envelope{EventType: enums.EventOrderPaid, Payload: []byte("null")}); err == nil {
		t.Fatal("expected empty payload error")
	}
}
