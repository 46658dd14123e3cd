package enums

// AnalyticsEventType is the canonical event_type written to the warehouse.
type AnalyticsEventType string

const (
	AnalyticsEventOrderCreated  AnalyticsEventType = "order_created"
	AnalyticsEventPurchase      AnalyticsEventType = "purchase"
	AnalyticsEventCODOrder      AnalyticsEventType = "cod_order"
	AnalyticsEventOrderExpired  AnalyticsEventType = "order_expired"
	AnalyticsEventRefund        AnalyticsEventType = "refund"
	AnalyticsEventStatusChanged AnalyticsEventType = "status_changed"
)

var validAnalyticsEventTypes = []AnalyticsEventType{
	AnalyticsEventOrderCreated,
	AnalyticsEventPurchase,
	AnalyticsEventCODOrder,
	AnalyticsEventOrderExpired,
	AnalyticsEventRefund,
	AnalyticsEventStatusChanged,
}

// IsValid reports whether the value matches the canonical analytics event_type enum.
func (a AnalyticsEventType) IsValid() bool {
	return member(validAnalyticsEventTypes, a)
}

// ParseAnalyticsEventType converts the raw string to AnalyticsEventType.
func ParseAnalyticsEventType(value string) (AnalyticsEventType, error) {
	return parse("analytics event type", validAnalyticsEventTypes, value)
}
