package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/pkg/db/dbtest"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

func seedMerchant(t *testing.T, db *gorm.DB) models.Merchant {
	t.Helper()
	m := models.Merchant{ID: uuid.New(), UserID: uuid.New(), Name: "Shop", Email: "shop@example.com"}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
	return m
}

func balanceOf(t *testing.T, db *gorm.DB, id uuid.UUID) int64 {
	t.Helper()
	var m models.Merchant
	if err := db.First(&m, "id = ?", id).Error; err != nil {
		t.Fatalf("load merchant: %v", err)
	}
	return m.BalanceCents
}

func TestCreditSettlementWritesHistoryAndBalance(t *testing.T) {
	db := dbtest.Open(t)
	svc, err := NewService(NewRepository(db))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	a := seedMerchant(t, db)
	b := seedMerchant(t, db)
	input := CreditInput{
		OrderCode:     "ORD-1",
		CustomerID:    uuid.New(),
		PaymentMethod: enums.PaymentMethodStripe,
		AmountsCents:  map[uuid.UUID]int64{a.ID: 2200, b.ID: 500},
	}

	var entries []models.PaymentHistory
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		entries, err = svc.CreditSettlement(context.Background(), tx, input)
		return err
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if got := balanceOf(t, db, a.ID); got != 2200 {
		t.Fatalf("expected balance 2200, got %d", got)
	}
	if got := balanceOf(t, db, b.ID); got != 500 {
		t.Fatalf("expected balance 500, got %d", got)
	}
	history, err := svc.History(context.Background(), "ORD-1")
	if err != nil || len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d (%v)", len(history), err)
	}
	for _, h := range history {
		if h.Status != enums.PaymentHistoryIncome {
			t.Fatalf("expected income rows, got %s", h.Status)
		}
	}
}

func TestCreditSettlementTwiceCreditsOnce(t *testing.T) {
	db := dbtest.Open(t)
	svc, _ := NewService(NewRepository(db))
	m := seedMerchant(t, db)
	input := CreditInput{
		OrderCode:     "ORD-1",
		CustomerID:    uuid.New(),
		PaymentMethod: enums.PaymentMethodStripe,
		AmountsCents:  map[uuid.UUID]int64{m.ID: 1000},
	}
	credit := func() error {
		return db.Transaction(func(tx *gorm.DB) error {
			_, err := svc.CreditSettlement(context.Background(), tx, input)
			return err
		})
	}

	if err := credit(); err != nil {
		t.Fatalf("first credit: %v", err)
	}
	if err := credit(); !errors.Is(err, ErrAlreadyCredited) {
		t.Fatalf("expected already credited, got %v", err)
	}
	if got := balanceOf(t, db, m.ID); got != 1000 {
		t.Fatalf("expected a single credit, got %d", got)
	}
}

func TestCreditSettlementUnknownMerchantRollsBack(t *testing.T) {
	db := dbtest.Open(t)
	svc, _ := NewService(NewRepository(db))

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.CreditSettlement(context.Background(), tx, CreditInput{
			OrderCode:     "ORD-1",
			CustomerID:    uuid.New(),
			PaymentMethod: enums.PaymentMethodCOD,
			AmountsCents:  map[uuid.UUID]int64{uuid.New(): 100},
		})
		return err
	})
	if !errors.Is(err, ErrMerchantNotFound) {
		t.Fatalf("expected merchant not found, got %v", err)
	}
	history, _ := svc.History(context.Background(), "ORD-1")
	if len(history) != 0 {
		t.Fatalf("expected rollback of history, got %d rows", len(history))
	}
}

func TestCreditSettlementValidatesInput(t *testing.T) {
	db := dbtest.Open(t)
	svc, _ := NewService(NewRepository(db))
	cases := []CreditInput{
		{CustomerID: uuid.New(), PaymentMethod: enums.PaymentMethodStripe},
		{OrderCode: "ORD-1", PaymentMethod: enums.PaymentMethodStripe},
		{OrderCode: "ORD-1", CustomerID: uuid.New(), PaymentMethod: "cash"},
		{OrderCode: "ORD-1", CustomerID: uuid.New(), PaymentMethod: enums.PaymentMethodStripe, AmountsCents: map[uuid.UUID]int64{uuid.New(): 0}},
	}
	for i, in := range cases {
		if _, err := svc.CreditSettlement(context.Background(), db, in); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	if _, err := svc.CreditSettlement(context.Background(), nil, cases[0]); err == nil {
		t.Fatal("expected nil tx error")
	}
}

func TestFindMerchants(t *testing.T) {
	db := dbtest.Open(t)
	m := seedMerchant(t, db)
	found, err := NewRepository(db).FindMerchants(context.Background(), []uuid.UUID{m.ID, uuid.New()})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 1 || found[m.ID].Email != "shop@example.com" {
		t.Fatalf("unexpected merchants %v", found)
	}
}
