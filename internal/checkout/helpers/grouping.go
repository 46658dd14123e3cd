package helpers

import (
	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/pkg/db/models"
)

// GroupLinesByMerchant groups the order lines of a group by their merchant.
func GroupLinesByMerchant(lines []models.Order) map[uuid.UUID][]models.Order {
	grouped := make(map[uuid.UUID][]models.Order, len(lines))
	for _, line := range lines {
		grouped[line.MerchantID] = append(grouped[line.MerchantID], line)
	}
	return grouped
}

// GroupTotals captures pre-calculated totals for a set of lines.
type GroupTotals struct {
	SubtotalCents int64
	ShippingCents int64
	TotalCents    int64
	UnitCount     int
	LineCount     int
}

// ComputeTotals sums price and shipping of the given lines.
func ComputeTotals(lines []models.Order) GroupTotals {
	var totals GroupTotals
	for _, line := range lines {
		totals.SubtotalCents += line.PriceCents * int64(line.Quantity)
		totals.ShippingCents += line.ShippingTotalCents()
		totals.TotalCents += line.LineTotalCents()
		totals.UnitCount += line.Quantity
		totals.LineCount++
	}
	return totals
}

// ComputeTotalsByMerchant returns totals keyed by merchant, the amount each
// merchant is credited on settlement.
func ComputeTotalsByMerchant(lines []models.Order) map[uuid.UUID]GroupTotals {
	results := make(map[uuid.UUID]GroupTotals)
	for merchantID, merchantLines := range GroupLinesByMerchant(lines) {
		results[merchantID] = ComputeTotals(merchantLines)
	}
	return results
}
