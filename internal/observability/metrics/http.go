package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// HTTPServerMetrics owns the API registry: request metrics, retrieval-stage
// metrics (it implements ports.RetrievalObserver) and circuit breaker state.
type HTTPServerMetrics struct {
	service  string
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchRequestsTotal *prometheus.CounterVec
	searchHits          *prometheus.HistogramVec
	searchFusionScore   *prometheus.HistogramVec
	searchDuration      *prometheus.HistogramVec
	branchTotal         *prometheus.CounterVec
	branchDuration      *prometheus.HistogramVec
	branchCandidates    *prometheus.HistogramVec
	rerankTotal         *prometheus.CounterVec
	rerankDuration      *prometheus.HistogramVec
	breakerState        *prometheus.GaugeVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hybrid",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	searchRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total hybrid searches by the set of branches that answered.",
		},
		[]string{"service", "methods"},
	)
	searchHits := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "search",
			Name:      "returned_hits",
			Help:      "Distribution of hits returned per search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55},
		},
		[]string{"service"},
	)
	searchFusionScore := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "search",
			Name:      "fusion_score",
			Help:      "Overlap between lexical and vector candidate sets.",
			Buckets:   []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.8, 1},
		},
		[]string{"service"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Hybrid search duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	branchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "search",
			Name:      "branch_total",
			Help:      "Retrieval branch executions by outcome.",
		},
		[]string{"service", "branch", "status"},
	)
	branchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "search",
			Name:      "branch_duration_seconds",
			Help:      "Retrieval branch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "branch"},
	)
	branchCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "search",
			Name:      "branch_candidates",
			Help:      "Candidates produced by a successful retrieval branch.",
			Buckets:   []float64{0, 1, 5, 10, 20, 30, 50, 100},
		},
		[]string{"service", "branch"},
	)
	rerankTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "rerank",
			Name:      "requests_total",
			Help:      "Rerank stage executions by outcome.",
		},
		[]string{"service", "outcome"},
	)
	rerankDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "rerank",
			Name:      "duration_seconds",
			Help:      "Rerank stage duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hybrid",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchRequestsTotal,
		searchHits,
		searchFusionScore,
		searchDuration,
		branchTotal,
		branchDuration,
		branchCandidates,
		rerankTotal,
		rerankDuration,
		breakerState,
	)

	return &HTTPServerMetrics{
		service:             service,
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		searchRequestsTotal: searchRequestsTotal,
		searchHits:          searchHits,
		searchFusionScore:   searchFusionScore,
		searchDuration:      searchDuration,
		branchTotal:         branchTotal,
		branchDuration:      branchDuration,
		branchCandidates:    branchCandidates,
		rerankTotal:         rerankTotal,
		rerankDuration:      rerankDuration,
		breakerState:        breakerState,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *HTTPServerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps project and chunk ids out of label values.
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/v1/projects/") {
		return path
	}
	parts := strings.Split(strings.TrimPrefix(path, "/v1/projects/"), "/")
	switch {
	case len(parts) == 2 && parts[1] == "search":
		return "/v1/projects/{project}/search"
	case len(parts) == 2 && parts[1] == "chunks":
		return "/v1/projects/{project}/chunks"
	case len(parts) == 3 && parts[1] == "chunks":
		return "/v1/projects/{project}/chunks/{id}"
	default:
		return "/v1/projects/other"
	}
}

func (m *HTTPServerMetrics) ObserveBranch(branch string, ok bool, candidates int, duration time.Duration) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.branchTotal.WithLabelValues(m.service, branch, status).Inc()
	m.branchDuration.WithLabelValues(m.service, branch).Observe(duration.Seconds())
	if ok {
		m.branchCandidates.WithLabelValues(m.service, branch).Observe(float64(candidates))
	}
}

func (m *HTTPServerMetrics) ObserveRerank(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.rerankTotal.WithLabelValues(m.service, outcome).Inc()
	m.rerankDuration.WithLabelValues(m.service).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) ObserveSearch(resp *domain.SearchResponse) {
	if resp == nil {
		return
	}
	label := strings.Join(resp.SearchMethods, "+")
	if label == "" {
		label = "none"
	}
	m.searchRequestsTotal.WithLabelValues(m.service, label).Inc()
	m.searchHits.WithLabelValues(m.service).Observe(float64(len(resp.Hits)))
	m.searchFusionScore.WithLabelValues(m.service).Observe(resp.FusionScore)
	m.searchDuration.WithLabelValues(m.service).Observe(float64(resp.ProcessingTimeMs) / 1000)
}

// ObserveBreakerState matches resilience.StateListener.
func (m *HTTPServerMetrics) ObserveBreakerState(operation string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(m.service, operation).Set(breakerStateValue(to))
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
