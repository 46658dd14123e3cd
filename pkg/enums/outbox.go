package enums

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrderGroup OutboxAggregateType = "order_group"
	AggregateMerchant   OutboxAggregateType = "merchant"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrderGroup,
	AggregateMerchant,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	return member(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", validAggregateTypes, value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderPaid          OutboxEventType = "order_paid"
	EventOrderRefunded      OutboxEventType = "order_refunded"
	EventOrderRefundFailed  OutboxEventType = "order_refund_failed"
	EventOrderPlacedCOD     OutboxEventType = "order_placed_cod"
	EventOrderExpired       OutboxEventType = "order_expired"
	EventOrderStatusChanged OutboxEventType = "order_status_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderRefunded,
	EventOrderRefundFailed,
	EventOrderPlacedCOD,
	EventOrderExpired,
	EventOrderStatusChanged,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	return member(validOutboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", validOutboxEventTypes, value)
}
