package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	eventTotal    *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	eventInFlight prometheus.Gauge
	queueLag      *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "worker",
			Name:      "index_event_total",
			Help:      "Total applied index events by op and status.",
		},
		[]string{"service", "op", "status"},
	)
	eventDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "worker",
			Name:      "index_event_duration_seconds",
			Help:      "Index event apply duration in seconds by op and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "op", "status"},
	)
	eventInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hybrid",
			Subsystem: "worker",
			Name:      "index_event_in_flight",
			Help:      "Number of index events being applied.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between event publish and apply start.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"service"},
	)

	registry.MustRegister(eventTotal, eventDuration, eventInFlight, queueLag)

	return &WorkerMetrics{
		service:       service,
		registry:      registry,
		eventTotal:    eventTotal,
		eventDuration: eventDuration,
		eventInFlight: eventInFlight,
		queueLag:      queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) StartEvent() {
	m.eventInFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(op string, duration time.Duration, err error) {
	m.eventInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.eventTotal.WithLabelValues(m.service, op, status).Inc()
	m.eventDuration.WithLabelValues(m.service, op, status).Observe(duration.Seconds())
}

// ObserveQueueLag ignores events without a publish timestamp.
func (m *WorkerMetrics) ObserveQueueLag(publishedAt time.Time) {
	if publishedAt.IsZero() {
		return
	}
	lag := time.Since(publishedAt)
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}
