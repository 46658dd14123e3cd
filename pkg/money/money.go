// Package money converts integer minor units to the decimal strings shown to
// clients. Amounts are stored and summed as int64 cents everywhere else.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount in minor currency units.
type Cents int64

// Major renders the amount in major units with two decimals, e.g. 2200 -> "22.00".
func (c Cents) Major() string {
	return c.Decimal().StringFixed(2)
}

// Decimal is the amount in major units.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// Sum adds amounts, failing on int64 overflow.
func Sum(amounts ...int64) (Cents, error) {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(decimal.NewFromInt(a))
	}
	if !total.IsInteger() || total.GreaterThan(decimal.NewFromInt(maxInt64)) || total.LessThan(decimal.NewFromInt(minInt64)) {
		return 0, fmt.Errorf("amount %s overflows int64 cents", total.String())
	}
	return Cents(total.IntPart()), nil
}

// LineTotal is (unit + unitShipping) x qty with overflow checking.
func LineTotal(unitCents, unitShippingCents int64, qty int) (Cents, error) {
	if qty < 0 {
		return 0, fmt.Errorf("quantity must not be negative")
	}
	total := decimal.NewFromInt(unitCents).
		Add(decimal.NewFromInt(unitShippingCents)).
		Mul(decimal.NewFromInt(int64(qty)))
	if total.GreaterThan(decimal.NewFromInt(maxInt64)) {
		return 0, fmt.Errorf("line total %s overflows int64 cents", total.String())
	}
	return Cents(total.IntPart()), nil
}

const (
	maxInt64 = int64(^uint64(0) >> 1)
	minInt64 = -maxInt64 - 1
)
