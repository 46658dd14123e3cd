package enums

// OrderStatus tracks an order line through checkout, settlement and fulfillment.
type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "pending"
	OrderStatusPlaced       OrderStatus = "order placed"
	OrderStatusConfirm      OrderStatus = "confirm"
	OrderStatusProcessing   OrderStatus = "processing"
	OrderStatusDelivery     OrderStatus = "delivery"
	OrderStatusSuccess      OrderStatus = "success"
	OrderStatusCancel       OrderStatus = "cancel"
	OrderStatusExpired      OrderStatus = "expired"
	OrderStatusRefund       OrderStatus = "refund"
	OrderStatusRefundFailed OrderStatus = "refund_failed"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPlaced,
	OrderStatusConfirm,
	OrderStatusProcessing,
	OrderStatusDelivery,
	OrderStatusSuccess,
	OrderStatusCancel,
	OrderStatusExpired,
	OrderStatusRefund,
	OrderStatusRefundFailed,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	return member(validOrderStatuses, s)
}

// IsRefund reports whether the line went through the compensating refund path.
func (s OrderStatus) IsRefund() bool {
	return s == OrderStatusRefund || s == OrderStatusRefundFailed
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	return parse("order status", validOrderStatuses, value)
}
