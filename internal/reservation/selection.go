package reservation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
)

const (
	itemSeparator = "#"
	pairSeparator = "_"
	maxQuantity   = 1000
)

// Selection is one requested product with its merged quantity.
type Selection struct {
	ProductID uuid.UUID
	Quantity  int
}

// ParseSelections decodes "qty_id#qty_id#..." into selections, summing the
// quantities of repeated products. Order of first appearance is kept.
func ParseSelections(raw string) ([]Selection, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "products required")
	}

	var (
		out   []Selection
		index = map[uuid.UUID]int{}
	)
	for i, segment := range strings.Split(raw, itemSeparator) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		qtyRaw, idRaw, ok := strings.Cut(segment, pairSeparator)
		if !ok {
			return nil, invalidSegment(i, segment, "expected qty_id")
		}
		qty, err := strconv.Atoi(strings.TrimSpace(qtyRaw))
		if err != nil || qty <= 0 {
			return nil, invalidSegment(i, segment, "quantity must be a positive integer")
		}
		id, err := uuid.Parse(strings.TrimSpace(idRaw))
		if err != nil {
			return nil, invalidSegment(i, segment, "product id is not a valid identifier")
		}
		if pos, seen := index[id]; seen {
			out[pos].Quantity += qty
			if out[pos].Quantity > maxQuantity {
				return nil, invalidSegment(i, segment, fmt.Sprintf("quantity exceeds %d", maxQuantity))
			}
			continue
		}
		if qty > maxQuantity {
			return nil, invalidSegment(i, segment, fmt.Sprintf("quantity exceeds %d", maxQuantity))
		}
		index[id] = len(out)
		out = append(out, Selection{ProductID: id, Quantity: qty})
	}
	if len(out) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "products required")
	}
	return out, nil
}

func invalidSegment(position int, segment, reason string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid products format").
		WithDetails(map[string]any{"position": position, "segment": segment, "reason": reason})
}
