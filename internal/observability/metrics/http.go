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

	"github.com/ndmitriev/recollect/internal/core/domain"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchRequestsTotal *prometheus.CounterVec
	searchNoResultTotal *prometheus.CounterVec
	searchResults       *prometheus.HistogramVec
	searchDuration      *prometheus.HistogramVec
	signalErrorsTotal   *prometheus.CounterVec
	ownerDropsTotal     *prometheus.CounterVec
	capturesTotal       *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recollect",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recollect",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "recollect",
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
			Namespace: "recollect",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total completed search requests.",
		},
		[]string{"service"},
	)
	searchNoResultTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recollect",
			Subsystem: "search",
			Name:      "no_result_total",
			Help:      "Total search requests that returned no memories.",
		},
		[]string{"service"},
	)
	searchResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recollect",
			Subsystem: "search",
			Name:      "results",
			Help:      "Distribution of fused results per search request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 50},
		},
		[]string{"service"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recollect",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	signalErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recollect",
			Subsystem: "search",
			Name:      "signal_errors_total",
			Help:      "Total retrieval signals that failed and were skipped.",
		},
		[]string{"service", "signal"},
	)
	ownerDropsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recollect",
			Subsystem: "search",
			Name:      "owner_drops_total",
			Help:      "Total candidates dropped by owner re-validation.",
		},
		[]string{"service", "signal"},
	)
	capturesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recollect",
			Subsystem: "capture",
			Name:      "memories_total",
			Help:      "Total captured memories by kind.",
		},
		[]string{"service", "kind"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchRequestsTotal,
		searchNoResultTotal,
		searchResults,
		searchDuration,
		signalErrorsTotal,
		ownerDropsTotal,
		capturesTotal,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		searchRequestsTotal: searchRequestsTotal,
		searchNoResultTotal: searchNoResultTotal,
		searchResults:       searchResults,
		searchDuration:      searchDuration,
		signalErrorsTotal:   signalErrorsTotal,
		ownerDropsTotal:     ownerDropsTotal,
		capturesTotal:       capturesTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
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
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasSuffix(path, "/related") && strings.HasPrefix(path, "/v1/memories/"):
		return "/v1/memories/{memory_id}/related"
	case strings.HasPrefix(path, "/v1/memories/") && path != "/v1/memories/upload":
		return "/v1/memories/{memory_id}"
	case strings.HasPrefix(path, "/v1/images/"):
		return "/v1/images/{file}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordSearchObservation(service string, resultCount int, duration time.Duration) {
	m.searchRequestsTotal.WithLabelValues(service).Inc()
	m.searchResults.WithLabelValues(service).Observe(float64(resultCount))
	m.searchDuration.WithLabelValues(service).Observe(duration.Seconds())

	if resultCount == 0 {
		m.searchNoResultTotal.WithLabelValues(service).Inc()
	}
}

func (m *HTTPServerMetrics) RecordCapture(service string, kind domain.MemoryKind) {
	m.capturesTotal.WithLabelValues(service, string(kind)).Inc()
}

// SearchRecorder binds the engine's observation hooks to one service label.
type SearchRecorder struct {
	metrics *HTTPServerMetrics
	service string
}

func (m *HTTPServerMetrics) SearchRecorder(service string) *SearchRecorder {
	return &SearchRecorder{metrics: m, service: service}
}

func (r *SearchRecorder) RecordSignalError(signal domain.Signal) {
	r.metrics.signalErrorsTotal.WithLabelValues(r.service, string(signal)).Inc()
}

func (r *SearchRecorder) RecordOwnerDrop(signal domain.Signal) {
	r.metrics.ownerDropsTotal.WithLabelValues(r.service, string(signal)).Inc()
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

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
