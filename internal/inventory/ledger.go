package inventory

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

// ErrInsufficientStock is returned when a guarded counter update matched no row.
var ErrInsufficientStock = errors.New("insufficient stock")

// StockError names the product whose guard failed.
type StockError struct {
	ProductID uuid.UUID
	Op        string
	Qty       int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s %d of product %s: %v", e.Op, e.Qty, e.ProductID, ErrInsufficientStock)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// Ledger owns every mutation of the products stock counters. Each primitive
// is one conditional UPDATE on the caller's transaction, so a concurrent
// writer can never push a counter below zero.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserve moves qty units from inventory to reserved_inventory.
func (l *Ledger) Reserve(tx *gorm.DB, productID uuid.UUID, qty int) error {
	return l.apply(tx, "reserve", productID, qty, "inventory >= ?", map[string]any{
		"inventory":          gorm.Expr("inventory - ?", qty),
		"reserved_inventory": gorm.Expr("reserved_inventory + ?", qty),
	})
}

// Release returns qty reserved units to inventory.
func (l *Ledger) Release(tx *gorm.DB, productID uuid.UUID, qty int) error {
	return l.apply(tx, "release", productID, qty, "reserved_inventory >= ?", map[string]any{
		"inventory":          gorm.Expr("inventory + ?", qty),
		"reserved_inventory": gorm.Expr("reserved_inventory - ?", qty),
	})
}

// CommitReserved turns qty reserved units into sold units.
func (l *Ledger) CommitReserved(tx *gorm.DB, productID uuid.UUID, qty int) error {
	return l.apply(tx, "commit", productID, qty, "reserved_inventory >= ?", map[string]any{
		"reserved_inventory": gorm.Expr("reserved_inventory - ?", qty),
		"sold_count":         gorm.Expr("sold_count + ?", qty),
	})
}

// Sell takes qty units straight from inventory into sold units.
func (l *Ledger) Sell(tx *gorm.DB, productID uuid.UUID, qty int) error {
	return l.apply(tx, "sell", productID, qty, "inventory >= ?", map[string]any{
		"inventory":  gorm.Expr("inventory - ?", qty),
		"sold_count": gorm.Expr("sold_count + ?", qty),
	})
}

// Decrement is the seller-side hard commitment when a line enters confirm.
func (l *Ledger) Decrement(tx *gorm.DB, productID uuid.UUID, qty int) error {
	return l.apply(tx, "decrement", productID, qty, "inventory >= ?", map[string]any{
		"inventory": gorm.Expr("inventory - ?", qty),
	})
}

// Increment reverses Decrement when a confirmed line is cancelled.
func (l *Ledger) Increment(tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validate(tx, qty); err != nil {
		return err
	}
	res := tx.Model(&models.Product{}).
		Where("id = ?", productID).
		Updates(map[string]any{
			"inventory": gorm.Expr("inventory + ?", qty),
			"status":    enums.ProductStatusActive,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &StockError{ProductID: productID, Op: "increment", Qty: qty}
	}
	return nil
}

// MarkDepleted flips the listed products to out_of_stock when nothing is
// left to sell. Products that still have inventory are untouched.
func (l *Ledger) MarkDepleted(tx *gorm.DB, productIDs []uuid.UUID) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	if len(productIDs) == 0 {
		return 0, nil
	}
	res := tx.Model(&models.Product{}).
		Where("id IN ? AND inventory = 0 AND status <> ?", productIDs, enums.ProductStatusOutOfStock).
		Update("status", enums.ProductStatusOutOfStock)
	return res.RowsAffected, res.Error
}

// ReserveRequest is one line of a batch reservation.
type ReserveRequest struct {
	ProductID uuid.UUID
	Qty       int
}

// ReserveResult reports the outcome for the request at the same index.
type ReserveResult struct {
	ProductID uuid.UUID
	Qty       int
	Reserved  bool
	Reason    string
}

// ReserveAll attempts every request and reports per-line results. Database
// errors abort; an insufficient line is reported and the rest continue. The
// caller decides whether a partial outcome rolls back.
func (l *Ledger) ReserveAll(tx *gorm.DB, requests []ReserveRequest) ([]ReserveResult, error) {
	results := make([]ReserveResult, 0, len(requests))
	for _, req := range requests {
		result := ReserveResult{ProductID: req.ProductID, Qty: req.Qty}
		err := l.Reserve(tx, req.ProductID, req.Qty)
		switch {
		case err == nil:
			result.Reserved = true
		case errors.Is(err, ErrInsufficientStock):
			result.Reason = "insufficient inventory"
		default:
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (l *Ledger) apply(tx *gorm.DB, op string, productID uuid.UUID, qty int, guard string, updates map[string]any) error {
	if err := validate(tx, qty); err != nil {
		return err
	}
	res := tx.Model(&models.Product{}).
		Where("id = ?", productID).
		Where(guard, qty).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &StockError{ProductID: productID, Op: op, Qty: qty}
	}
	return nil
}

func validate(tx *gorm.DB, qty int) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", qty)
	}
	return nil
}
