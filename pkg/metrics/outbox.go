package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts publisher outcomes per sink.
type OutboxMetrics struct {
	events *prometheus.CounterVec
	sink   string
}

func NewOutboxMetrics(reg prometheus.Registerer, sink string) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{sink: sink}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Outbox rows handled by the publisher, by sink and outcome.",
	}, []string{"sink", "outcome"})
	reg.MustRegister(events)
	return &OutboxMetrics{events: events, sink: sink}
}

func (o *OutboxMetrics) IncOutcome(outcome string) {
	if o == nil || o.events == nil {
		return
	}
	o.events.WithLabelValues(normalizeLabel(o.sink), normalizeLabel(outcome)).Inc()
}
