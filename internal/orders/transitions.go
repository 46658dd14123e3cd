package orders

import "github.com/bazaarline/marketplace-backend/pkg/enums"

// sellerTransitions lists the moves a merchant may make on a settled line.
var sellerTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:    {enums.OrderStatusProcessing, enums.OrderStatusCancel},
	enums.OrderStatusProcessing: {enums.OrderStatusConfirm, enums.OrderStatusCancel},
	enums.OrderStatusConfirm:    {enums.OrderStatusDelivery, enums.OrderStatusCancel},
	enums.OrderStatusDelivery:   {enums.OrderStatusSuccess, enums.OrderStatusCancel},
	enums.OrderStatusCancel:     {enums.OrderStatusConfirm},
}

// lookupState folds cash-on-delivery placement onto pending.
func lookupState(status enums.OrderStatus) enums.OrderStatus {
	if status == enums.OrderStatusPlaced {
		return enums.OrderStatusPending
	}
	return status
}

// CanTransition reports whether a merchant may move a line from one status to
// another.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, allowed := range sellerTransitions[lookupState(from)] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable from status.
func AllowedTransitions(status enums.OrderStatus) []enums.OrderStatus {
	allowed := sellerTransitions[lookupState(status)]
	out := make([]enums.OrderStatus, len(allowed))
	copy(out, allowed)
	return out
}
