package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics tracks delayed job processing.
type QueueMetrics struct {
	processed *prometheus.CounterVec
	lag       *prometheus.HistogramVec
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	if reg == nil {
		return &QueueMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "jobs_processed_total",
		Help:      "Delayed jobs handled by outcome (ack, retry, dead).",
	}, []string{"queue", "outcome"})
	lag := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "job_lag_seconds",
		Help:      "Delay between a job's due time and its pickup.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"queue"})
	reg.MustRegister(processed, lag)
	return &QueueMetrics{processed: processed, lag: lag}
}

func (q *QueueMetrics) IncOutcome(queue, outcome string) {
	if q == nil || q.processed == nil {
		return
	}
	q.processed.WithLabelValues(normalizeLabel(queue), normalizeLabel(outcome)).Inc()
}

func (q *QueueMetrics) ObserveLag(queue string, lag time.Duration) {
	if q == nil || q.lag == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	q.lag.WithLabelValues(normalizeLabel(queue)).Observe(lag.Seconds())
}
