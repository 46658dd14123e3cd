package metrics

import "github.com/prometheus/client_golang/prometheus"

// OrderMetrics counts transitions of the order pipeline: reservations,
// checkout sessions, settlements and expiries.
type OrderMetrics struct {
	events *prometheus.CounterVec
}

func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "pipeline_events_total",
		Help:      "Order pipeline outcomes by stage.",
	}, []string{"stage", "outcome"})
	reg.MustRegister(events)
	return &OrderMetrics{events: events}
}

// Inc records one outcome for a stage, e.g. ("settlement", "refunded").
func (o *OrderMetrics) Inc(stage, outcome string) {
	if o == nil || o.events == nil {
		return
	}
	o.events.WithLabelValues(normalizeLabel(stage), normalizeLabel(outcome)).Inc()
}
