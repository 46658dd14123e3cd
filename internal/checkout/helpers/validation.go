package helpers

import (
	"time"

	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
)

// EnsureWithinWindow fails with an expired error once the group is older than
// window. The first line's creation time is the group's.
func EnsureWithinWindow(lines []models.Order, now time.Time, window time.Duration) error {
	if len(lines) == 0 {
		return nil
	}
	createdAt := lines[0].CreatedAt
	if now.Sub(createdAt) > window {
		return pkgerrors.New(pkgerrors.CodeExpired, "order has expired, please place it again").
			WithDetails(map[string]any{"createdAt": createdAt, "window": window.String()})
	}
	return nil
}

// ValidateLineProduct checks that the product behind a line still exists and
// can be sold through a hosted payment page.
func ValidateLineProduct(line models.Order, products map[uuid.UUID]models.Product) (models.Product, error) {
	product, ok := products[line.ProductID]
	if !ok {
		return models.Product{}, pkgerrors.New(pkgerrors.CodeConflict, "product is no longer available").
			WithDetails(map[string]any{"productId": line.ProductID})
	}
	if missing := product.MissingCheckoutFields(); len(missing) > 0 {
		return product, pkgerrors.New(pkgerrors.CodeConflict, "product "+product.Name+" is incomplete").
			WithDetails(map[string]any{"productId": product.ID, "missing": missing})
	}
	return product, nil
}

// EnsureStock fails with a conflict naming the product when fewer than need
// units are available.
func EnsureStock(product models.Product, need int) error {
	if product.Inventory >= need {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock for "+product.Name).
		WithDetails(map[string]any{
			"productId": product.ID,
			"available": product.Inventory,
			"requested": need,
		})
}

// LineProductIDs lists the distinct products referenced by lines.
func LineProductIDs(lines []models.Order) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}
