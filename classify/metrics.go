package classify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports cascade telemetry in Prometheus format.
type Metrics struct {
	classifications *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	feedback        prometheus.Counter
	learnDrops      prometheus.Counter
	learnedQueries  prometheus.Gauge
	circuitOpen     prometheus.Gauge
}

// NewMetrics registers cascade metrics on reg. A nil registerer skips
// registration, which keeps isolated test runtimes from colliding on the
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cascade",
				Name:      "classifications_total",
				Help:      "Total classifications by resolution method and status",
			},
			[]string{"method", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cascade",
				Name:      "classification_latency_seconds",
				Help:      "Classification latency by resolution method",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"method"},
		),
		feedback: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cascade",
				Name:      "feedback_total",
				Help:      "Total user corrections processed",
			},
		),
		learnDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cascade",
				Name:      "learn_queue_drops_total",
				Help:      "Learning events dropped because the queue was full",
			},
		),
		learnedQueries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cascade",
				Name:      "learned_queries",
				Help:      "Query records currently held by the learning store",
			},
		),
		circuitOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cascade",
				Name:      "embedding_circuit_open",
				Help:      "Whether the embedding circuit breaker is open (1) or closed (0)",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.classifications,
			m.latency,
			m.feedback,
			m.learnDrops,
			m.learnedQueries,
			m.circuitOpen,
		)
	}
	return m
}

func (m *Metrics) recordClassification(method string, followUp bool, duration time.Duration) {
	status := "ok"
	if followUp {
		status = "follow_up"
	}
	m.classifications.WithLabelValues(method, status).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) setCircuitState(open bool) {
	if open {
		m.circuitOpen.Set(1)
	} else {
		m.circuitOpen.Set(0)
	}
}
