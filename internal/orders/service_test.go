package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/internal/inventory"
	"github.com/bazaarline/marketplace-backend/internal/ledger"
	"github.com/bazaarline/marketplace-backend/pkg/db"
	"github.com/bazaarline/marketplace-backend/pkg/db/dbtest"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/outbox"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
)

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type statusFixture struct {
	db       *gorm.DB
	svc      *service
	outbox   *recordingOutbox
	merchant uuid.UUID
	product  models.Product
}

func newStatusFixture(t *testing.T, inventoryUnits int) *statusFixture {
	t.Helper()
	conn := dbtest.Open(t)
	product := models.Product{
		ID:         uuid.New(),
		MerchantID: uuid.New(),
		Name:       "Desk",
		Images:     []string{"https://cdn.example.com/desk.png"},
		PriceCents: 5000,
		Inventory:  inventoryUnits,
		Status:     enums.ProductStatusActive,
	}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	ob := &recordingOutbox{}
	payments, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Repository: NewRepository(conn),
		TxRunner:   db.NewFromGorm(conn, logger.Nop(), 1),
		Outbox:     ob,
		Stock:      inventory.NewLedger(),
		Payments:   payments,
		Logger:     logger.Nop(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	impl := svc.(*service)
	impl.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	return &statusFixture{db: conn, svc: impl, outbox: ob, merchant: product.MerchantID, product: product}
}

func (f *statusFixture) seed(t *testing.T, status enums.OrderStatus, paid bool, method enums.PaymentMethod) models.Order {
	t.Helper()
	return seedLine(t, f.db, func(o *models.Order) {
		o.ProductID = f.product.ID
		o.MerchantID = f.merchant
		o.Status = status
		o.IsPaid = paid
		o.Payment = &method
	})
}

func (f *statusFixture) inventory(t *testing.T) int {
	t.Helper()
	var p models.Product
	if err := f.db.First(&p, "id = ?", f.product.ID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return p.Inventory
}

func (f *statusFixture) update(status enums.OrderStatus) (*StatusChangeResult, error) {
	return f.svc.UpdateStatus(context.Background(), UpdateStatusInput{
		Code:       "ORD-TEST-1",
		Status:     string(status),
		MerchantID: f.merchant,
	})
}

func TestUpdateStatusConfirmDecrementsAndCancelRestores(t *testing.T) {
	f := newStatusFixture(t, 5)
	f.seed(t, enums.OrderStatusProcessing, true, enums.PaymentMethodStripe)

	res, err := f.update(enums.OrderStatusConfirm)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.From != enums.OrderStatusProcessing || res.To != enums.OrderStatusConfirm || res.LineCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := f.inventory(t); got != 3 {
		t.Fatalf("expected inventory 3 after confirm, got %d", got)
	}

	if _, err := f.update(enums.OrderStatusCancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.inventory(t); got != 5 {
		t.Fatalf("expected inventory restored to 5, got %d", got)
	}

	if len(f.outbox.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(f.outbox.events))
	}
	last := f.outbox.events[1]
	if last.EventType != enums.EventOrderStatusChanged || last.OrderCode != "ORD-TEST-1" {
		t.Fatalf("unexpected event %+v", last)
	}
	data := last.Data.(payloads.OrderStatusChangedEvent)
	if data.From != enums.OrderStatusConfirm || data.To != enums.OrderStatusCancel {
		t.Fatalf("unexpected payload %+v", data)
	}
}

func TestUpdateStatusConfirmWithoutStockConflicts(t *testing.T) {
	f := newStatusFixture(t, 1)
	f.seed(t, enums.OrderStatusProcessing, true, enums.PaymentMethodStripe)

	_, err := f.update(enums.OrderStatusConfirm)
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	lines, _ := NewRepository(f.db).FindByCode(context.Background(), "ORD-TEST-1")
	if lines[0].Status != enums.OrderStatusProcessing {
		t.Fatalf("status must not change on failure, got %s", lines[0].Status)
	}
	if len(f.outbox.events) != 0 {
		t.Fatalf("expected no events, got %d", len(f.outbox.events))
	}
}

func TestUpdateStatusReconfirmAfterCancelDecrementsAgain(t *testing.T) {
	f := newStatusFixture(t, 5)
	f.seed(t, enums.OrderStatusProcessing, true, enums.PaymentMethodStripe)

	steps := []struct {
		to   enums.OrderStatus
		want int
	}{
		{enums.OrderStatusConfirm, 3},
		{enums.OrderStatusCancel, 5},
		{enums.OrderStatusConfirm, 3},
	}
	for _, step := range steps {
		if _, err := f.update(step.to); err != nil {
			t.Fatalf("move to %s: %v", step.to, err)
		}
		if got := f.inventory(t); got != step.want {
			t.Fatalf("expected inventory %d after %s, got %d", step.want, step.to, got)
		}
	}
	lines, _ := NewRepository(f.db).FindByCode(context.Background(), "ORD-TEST-1")
	if lines[0].Status != enums.OrderStatusConfirm || !lines[0].StockCommitted {
		t.Fatalf("unexpected line %+v", lines[0])
	}
}

func TestUpdateStatusReconfirmWithoutStockConflicts(t *testing.T) {
	f := newStatusFixture(t, 0)
	f.seed(t, enums.OrderStatusCancel, true, enums.PaymentMethodStripe)

	_, err := f.update(enums.OrderStatusConfirm)
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	lines, _ := NewRepository(f.db).FindByCode(context.Background(), "ORD-TEST-1")
	if lines[0].Status != enums.OrderStatusCancel || lines[0].StockCommitted {
		t.Fatalf("line must stay cancelled, got %+v", lines[0])
	}
	if got := f.inventory(t); got != 0 {
		t.Fatalf("inventory must not change, got %d", got)
	}
	if len(f.outbox.events) != 0 {
		t.Fatalf("expected no events, got %d", len(f.outbox.events))
	}
}

func TestUpdateStatusCancelOfSettledLineKeepsSoldStock(t *testing.T) {
	f := newStatusFixture(t, 4)
	f.seed(t, enums.OrderStatusConfirm, true, enums.PaymentMethodStripe)

	if _, err := f.update(enums.OrderStatusCancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.inventory(t); got != 4 {
		t.Fatalf("units consumed at settlement must not return, got inventory %d", got)
	}
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	f := newStatusFixture(t, 5)
	f.seed(t, enums.OrderStatusConfirm, true, enums.PaymentMethodStripe)

	_, err := f.update(enums.OrderStatusSuccess)
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	details, _ := pkgerrors.As(err).Details().(map[string]any)
	if details["current"] != enums.OrderStatusConfirm || details["requested"] != enums.OrderStatusSuccess {
		t.Fatalf("expected details naming both states, got %v", details)
	}
}

func TestUpdateStatusRejectsUnsettledLines(t *testing.T) {
	f := newStatusFixture(t, 5)
	f.seed(t, enums.OrderStatusPending, false, enums.PaymentMethodStripe)

	_, err := f.update(enums.OrderStatusProcessing)
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict for unsettled line, got %v", err)
	}
}

func TestUpdateStatusTreatsCashOnDeliveryPlacedAsPending(t *testing.T) {
	f := newStatusFixture(t, 5)
	f.seed(t, enums.OrderStatusPlaced, false, enums.PaymentMethodCOD)

	res, err := f.update(enums.OrderStatusProcessing)
	if err != nil {
		t.Fatalf("processing: %v", err)
	}
	if res.From != enums.OrderStatusPlaced {
		t.Fatalf("expected from order placed, got %s", res.From)
	}
}

func TestUpdateStatusValidatesInput(t *testing.T) {
	f := newStatusFixture(t, 5)
	cases := []UpdateStatusInput{
		{Code: "", Status: "confirm", MerchantID: f.merchant},
		{Code: "ORD-TEST-1", Status: "shipped", MerchantID: f.merchant},
	}
	for _, in := range cases {
		if _, err := f.svc.UpdateStatus(context.Background(), in); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("expected validation error for %+v, got %v", in, err)
		}
	}
	_, err := f.svc.UpdateStatus(context.Background(), UpdateStatusInput{Code: "ORD-NOPE", Status: "confirm", MerchantID: f.merchant})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetGroupRendersTotals(t *testing.T) {
	f := newStatusFixture(t, 5)
	line := seedLine(t, f.db, func(o *models.Order) {
		o.Quantity = 2
		o.PriceCents = 1000
		o.ShippingCents = 100
	})

	view, err := f.svc.GetGroup(context.Background(), "ORD-TEST-1", line.UserID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if view.Total != "22.00" || view.Shipping != "2.00" || view.OrderCount != 1 {
		t.Fatalf("unexpected view %+v", view)
	}
	if len(view.Payments) != 0 {
		t.Fatalf("unsettled group has no payments, got %+v", view.Payments)
	}
	if _, err := f.svc.GetGroup(context.Background(), "ORD-TEST-1", uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for another buyer, got %v", err)
	}
}

func TestGetGroupListsSettlementPayments(t *testing.T) {
	f := newStatusFixture(t, 5)
	line := seedLine(t, f.db, func(o *models.Order) {
		o.MerchantID = f.merchant
		o.Quantity = 2
		o.PriceCents = 1000
		o.ShippingCents = 100
	})
	credit := models.PaymentHistory{
		ID:            uuid.New(),
		CustomerID:    line.UserID,
		MerchantID:    f.merchant,
		OrderCode:     "ORD-TEST-1",
		PaymentMethod: enums.PaymentMethodStripe,
		AmountCents:   2200,
		Status:        enums.PaymentHistoryIncome,
	}
	if err := f.db.Create(&credit).Error; err != nil {
		t.Fatalf("seed payment history: %v", err)
	}

	view, err := f.svc.GetGroup(context.Background(), "ORD-TEST-1", line.UserID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if len(view.Payments) != 1 {
		t.Fatalf("expected one payment, got %+v", view.Payments)
	}
	got := view.Payments[0]
	if got.Amount != "22.00" || got.MerchantID != f.merchant || got.Method != enums.PaymentMethodStripe || got.Status != enums.PaymentHistoryIncome {
		t.Fatalf("unexpected payment %+v", got)
	}
}
