package expiry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/internal/inventory"
	"github.com/bazaarline/marketplace-backend/internal/orders"
	"github.com/bazaarline/marketplace-backend/pkg/db"
	"github.com/bazaarline/marketplace-backend/pkg/db/dbtest"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/outbox"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
	"github.com/bazaarline/marketplace-backend/pkg/queue"
)

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type sweepFixture struct {
	db      *gorm.DB
	sweeper *Sweeper
	outbox  *recordingOutbox
	ledger  *inventory.Ledger
	product models.Product
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	conn := dbtest.Open(t)
	product := models.Product{
		ID:         uuid.New(),
		MerchantID: uuid.New(),
		Name:       "Chair",
		Images:     []string{"https://cdn.example.com/chair.png"},
		PriceCents: 2500,
		Inventory:  10,
		Status:     enums.ProductStatusActive,
	}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	ob := &recordingOutbox{}
	ledger := inventory.NewLedger()
	sweeper, err := NewSweeper(SweeperParams{
		Repository: orders.NewRepository(conn),
		TxRunner:   db.NewFromGorm(conn, logger.Nop(), 1),
		Inventory:  ledger,
		Outbox:     ob,
		Logger:     logger.Nop(),
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	sweeper.now = func() time.Time { return time.Date(2026, 3, 2, 12, 5, 0, 0, time.UTC) }
	return &sweepFixture{db: conn, sweeper: sweeper, outbox: ob, ledger: ledger, product: product}
}

// reservedLine creates a pending line and moves qty units into reservation the
// way checkout does.
func (f *sweepFixture) reservedLine(t *testing.T, code string, qty int) models.Order {
	t.Helper()
	if err := f.ledger.Reserve(f.db, f.product.ID, qty); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return f.line(t, code, qty, func(o *models.Order) { o.InventoryReserved = true })
}

func (f *sweepFixture) line(t *testing.T, code string, qty int, mutate func(*models.Order)) models.Order {
	t.Helper()
	o := models.Order{
		ID:         uuid.New(),
		Code:       code,
		UserID:     uuid.New(),
		ProductID:  f.product.ID,
		MerchantID: f.product.MerchantID,
		Quantity:   qty,
		PriceCents: f.product.PriceCents,
		Status:     enums.OrderStatusPending,
	}
	if mutate != nil {
		mutate(&o)
	}
	if err := orders.NewRepository(f.db).CreateBatch(context.Background(), []models.Order{o}); err != nil {
		t.Fatalf("seed line: %v", err)
	}
	return o
}

func (f *sweepFixture) stock(t *testing.T) (int, int) {
	t.Helper()
	var p models.Product
	if err := f.db.First(&p, "id = ?", f.product.ID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return p.Inventory, p.ReservedInventory
}

func TestSweepRestoresReservedStockExactly(t *testing.T) {
	f := newSweepFixture(t)
	f.reservedLine(t, "ORD-EXP", 3)
	if inv, res := f.stock(t); inv != 7 || res != 3 {
		t.Fatalf("unexpected stock before sweep %d/%d", inv, res)
	}

	result, err := f.sweeper.Sweep(context.Background(), "ORD-EXP")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.ExpiredLines != 1 || result.ReleasedUnits != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	if inv, res := f.stock(t); inv != 10 || res != 0 {
		t.Fatalf("expected stock restored to 10/0, got %d/%d", inv, res)
	}

	lines, _ := orders.NewRepository(f.db).FindByCode(context.Background(), "ORD-EXP")
	if lines[0].Status != enums.OrderStatusExpired || lines[0].InventoryReserved || lines[0].ExpiredAt == nil {
		t.Fatalf("unexpected line %+v", lines[0])
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventOrderExpired {
		t.Fatalf("expected order_expired event, got %+v", f.outbox.events)
	}
	if data := f.outbox.events[0].Data.(payloads.OrderExpiredEvent); data.Released != 3 {
		t.Fatalf("expected 3 released units on event, got %d", data.Released)
	}
}

func TestSweepTwiceNeverDoubleReleases(t *testing.T) {
	f := newSweepFixture(t)
	f.reservedLine(t, "ORD-EXP", 2)

	for i := 0; i < 2; i++ {
		if _, err := f.sweeper.Sweep(context.Background(), "ORD-EXP"); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	if inv, res := f.stock(t); inv != 10 || res != 0 {
		t.Fatalf("expected 10/0 after two sweeps, got %d/%d", inv, res)
	}
	if len(f.outbox.events) != 1 {
		t.Fatalf("expected a single expired event, got %d", len(f.outbox.events))
	}
}

func TestSweepAfterSettlementIsNoop(t *testing.T) {
	f := newSweepFixture(t)
	paidAt := time.Now()
	f.line(t, "ORD-PAID", 2, func(o *models.Order) {
		o.IsPaid = true
		o.Status = enums.OrderStatusConfirm
		o.PaidAt = &paidAt
	})

	result, err := f.sweeper.Sweep(context.Background(), "ORD-PAID")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.ExpiredLines != 0 {
		t.Fatalf("expected no expired lines, got %+v", result)
	}
	lines, _ := orders.NewRepository(f.db).FindByCode(context.Background(), "ORD-PAID")
	if lines[0].Status != enums.OrderStatusConfirm || !lines[0].IsPaid {
		t.Fatalf("settled line must not change, got %+v", lines[0])
	}
	if len(f.outbox.events) != 0 {
		t.Fatalf("expected no events, got %d", len(f.outbox.events))
	}
}

func TestSweepUnreservedLineLeavesStock(t *testing.T) {
	f := newSweepFixture(t)
	f.line(t, "ORD-LAZY", 4, nil)

	result, err := f.sweeper.Sweep(context.Background(), "ORD-LAZY")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.ExpiredLines != 1 || result.ReleasedUnits != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if inv, res := f.stock(t); inv != 10 || res != 0 {
		t.Fatalf("expected untouched stock, got %d/%d", inv, res)
	}
}

// snapshotRepository serves a fixed read of the pending lines once, standing
// in for a checkout that commits between the sweep's read and its claim.
type snapshotRepository struct {
	orders.Repository
	snapshot []models.Order
	served   *bool
}

func (r snapshotRepository) WithTx(tx *gorm.DB) orders.Repository {
	return snapshotRepository{Repository: r.Repository.WithTx(tx), snapshot: r.snapshot, served: r.served}
}

func (r snapshotRepository) FindPendingUnpaidByCode(ctx context.Context, code string) ([]models.Order, error) {
	if !*r.served {
		*r.served = true
		return r.snapshot, nil
	}
	return r.Repository.FindPendingUnpaidByCode(ctx, code)
}

func (f *sweepFixture) withSnapshot(snapshot []models.Order) {
	served := false
	f.sweeper.repo = snapshotRepository{Repository: f.sweeper.repo, snapshot: snapshot, served: &served}
}

func TestSweepReclaimsLineReservedAfterRead(t *testing.T) {
	f := newSweepFixture(t)
	line := f.line(t, "ORD-RACE", 3, nil)
	f.withSnapshot([]models.Order{line})

	if err := f.ledger.Reserve(f.db, f.product.ID, 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := f.db.Model(&models.Order{}).Where("id = ?", line.ID).Update("inventory_reserved", true).Error; err != nil {
		t.Fatalf("mark reserved: %v", err)
	}

	result, err := f.sweeper.Sweep(context.Background(), "ORD-RACE")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.ExpiredLines != 1 || result.ReleasedUnits != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	if inv, res := f.stock(t); inv != 10 || res != 0 {
		t.Fatalf("expected stock restored to 10/0, got %d/%d", inv, res)
	}
	lines, _ := orders.NewRepository(f.db).FindByCode(context.Background(), "ORD-RACE")
	if lines[0].Status != enums.OrderStatusExpired || lines[0].InventoryReserved {
		t.Fatalf("unexpected line %+v", lines[0])
	}
}

func TestSweepSkipsLineSettledAfterRead(t *testing.T) {
	f := newSweepFixture(t)
	line := f.line(t, "ORD-LATE", 2, nil)
	f.withSnapshot([]models.Order{line})

	if err := f.db.Model(&models.Order{}).Where("id = ?", line.ID).Updates(map[string]any{
		"is_paid": true,
		"status":  enums.OrderStatusConfirm,
	}).Error; err != nil {
		t.Fatalf("settle line: %v", err)
	}

	result, err := f.sweeper.Sweep(context.Background(), "ORD-LATE")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.ExpiredLines != 0 {
		t.Fatalf("expected no expired lines, got %+v", result)
	}
	if len(f.outbox.events) != 0 {
		t.Fatalf("expected no events, got %d", len(f.outbox.events))
	}
}

func TestHandleJobDecodesPayload(t *testing.T) {
	f := newSweepFixture(t)
	f.reservedLine(t, "ORD-JOB", 1)

	payload, _ := json.Marshal(JobPayload{Code: "ORD-JOB"})
	if err := f.sweeper.HandleJob(context.Background(), queue.Job{ID: JobID("ORD-JOB"), Payload: payload}); err != nil {
		t.Fatalf("handle job: %v", err)
	}
	if inv, _ := f.stock(t); inv != 10 {
		t.Fatalf("expected stock restored, got %d", inv)
	}

	if err := f.sweeper.HandleJob(context.Background(), queue.Job{ID: "order:x", Payload: []byte("{")}); err == nil {
		t.Fatal("expected malformed payload to fail")
	}
}

func TestJobID(t *testing.T) {
	if got := JobID("ORD-1"); got != "order:ORD-1" {
		t.Fatalf("unexpected job id %q", got)
	}
}
