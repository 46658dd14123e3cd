package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/pkg/db/dbtest"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

func seedLine(t *testing.T, db *gorm.DB, mutate func(*models.Order)) models.Order {
	t.Helper()
	line := models.Order{
		ID:            uuid.New(),
		Code:          "ORD-TEST-1",
		UserID:        uuid.New(),
		ProductID:     uuid.New(),
		MerchantID:    uuid.New(),
		Quantity:      2,
		PriceCents:    1000,
		ShippingCents: 100,
		Status:        enums.OrderStatusPending,
	}
	if mutate != nil {
		mutate(&line)
	}
	if err := NewRepository(db).CreateBatch(context.Background(), []models.Order{line}); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return line
}

func TestRepositoryFindersScopeByOwner(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	owner := uuid.New()
	merchant := uuid.New()

	seedLine(t, db, func(o *models.Order) { o.UserID = owner; o.MerchantID = merchant })
	seedLine(t, db, func(o *models.Order) {
		o.UserID = owner
		o.IsPaid = true
		o.Status = enums.OrderStatusConfirm
	})

	all, err := repo.FindByCode(ctx, "ORD-TEST-1")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 lines, got %d (%v)", len(all), err)
	}
	pending, err := repo.FindPendingByCode(ctx, "ORD-TEST-1", owner)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 pending line, got %d (%v)", len(pending), err)
	}
	if other, _ := repo.FindPendingByCode(ctx, "ORD-TEST-1", uuid.New()); len(other) != 0 {
		t.Fatalf("expected no lines for another user, got %d", len(other))
	}
	mine, err := repo.FindByCodeForMerchant(ctx, "ORD-TEST-1", merchant)
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected 1 merchant line, got %d (%v)", len(mine), err)
	}
}

func TestCompareAndUpdateOnlyFirstClaimWins(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	line := seedLine(t, db, nil)

	expected := StateOf(line)
	if err := repo.CompareAndUpdate(ctx, line.ID, expected, map[string]any{"status": enums.OrderStatusExpired}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	err := repo.CompareAndUpdate(ctx, line.ID, expected, map[string]any{"is_paid": true, "status": enums.OrderStatusConfirm})
	if !errors.Is(err, ErrClaimLost) {
		t.Fatalf("expected lost claim, got %v", err)
	}

	lines, _ := repo.FindByCode(ctx, line.Code)
	if lines[0].Status != enums.OrderStatusExpired || lines[0].IsPaid {
		t.Fatalf("second writer must not apply, got %+v", lines[0])
	}
}

func TestUpdateByCodeTouchesWholeGroup(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	seedLine(t, db, nil)
	seedLine(t, db, nil)
	seedLine(t, db, func(o *models.Order) { o.Code = "ORD-OTHER" })

	n, err := repo.UpdateByCode(ctx, "ORD-TEST-1", map[string]any{"stripe_session_id": "cs_test"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
}

func TestFindStalePendingCodes(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	seedLine(t, db, func(o *models.Order) { o.Code = "ORD-STALE"; o.CreatedAt = old })
	seedLine(t, db, func(o *models.Order) { o.Code = "ORD-STALE"; o.CreatedAt = old })
	seedLine(t, db, func(o *models.Order) { o.Code = "ORD-FRESH" })
	seedLine(t, db, func(o *models.Order) {
		o.Code = "ORD-PAID"
		o.CreatedAt = old
		o.IsPaid = true
		o.Status = enums.OrderStatusConfirm
	})

	codes, err := repo.FindStalePendingCodes(ctx, time.Now().Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("find stale: %v", err)
	}
	if len(codes) != 1 || codes[0] != "ORD-STALE" {
		t.Fatalf("unexpected codes %v", codes)
	}
}

func TestDeleteExpiredBefore(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	longAgo := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Minute)

	seedLine(t, db, func(o *models.Order) { o.Status = enums.OrderStatusExpired; o.ExpiredAt = &longAgo })
	seedLine(t, db, func(o *models.Order) { o.Status = enums.OrderStatusExpired; o.ExpiredAt = &recent })
	seedLine(t, db, nil)

	n, err := repo.DeleteExpiredBefore(ctx, time.Now().Add(-24*time.Hour), 100)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}
	remaining, _ := repo.FindByCode(ctx, "ORD-TEST-1")
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining rows, got %d", len(remaining))
	}
}
