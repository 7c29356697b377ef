package metrics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Autopsias/raglite/internal/core/domain"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrievalTotal      *prometheus.CounterVec
	retrievalEvidence   *prometheus.HistogramVec
	noEvidenceTotal     *prometheus.CounterVec
	retrievalFailed     *prometheus.CounterVec
	pathDegradedTotal   *prometheus.CounterVec
	pathDuration        *prometheus.HistogramVec
	substitutionsTotal  *prometheus.CounterVec
	answerRequestsTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglite",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raglite",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raglite",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglite",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total answered retrievals by route.",
		},
		[]string{"service", "route", "degraded"},
	)
	retrievalEvidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raglite",
			Subsystem: "retrieval",
			Name:      "evidence_items",
			Help:      "Distribution of evidence items per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "route"},
	)
	noEvidenceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglite",
			Subsystem: "retrieval",
			Name:      "no_evidence_total",
			Help:      "Total retrievals where every attempted path came back empty.",
		},
		[]string{"service", "route"},
	)
	retrievalFailed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglite",
			Subsystem: "retrieval",
			Name:      "failures_total",
			Help:      "Total retrievals that failed technically, by error kind.",
		},
		[]string{"service", "kind"},
	)
	pathDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglite",
			Subsystem: "retrieval",
			Name:      "path_degraded_total",
			Help:      "Total degraded retrieval paths by reason.",
		},
		[]string{"service", "path", "reason"},
	)
	pathDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raglite",
			Subsystem: "retrieval",
			Name:      "path_duration_seconds",
			Help:      "Retrieval path latency in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
		[]string{"service", "path"},
	)
	substitutionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglite",
			Subsystem: "retrieval",
			Name:      "period_substitutions_total",
			Help:      "Total facts served from an enclosing period instead of the requested one.",
		},
		[]string{"service"},
	)
	answerRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglite",
			Subsystem: "answer",
			Name:      "requests_total",
			Help:      "Total answer generations by status.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		retrievalTotal,
		retrievalEvidence,
		noEvidenceTotal,
		retrievalFailed,
		pathDegradedTotal,
		pathDuration,
		substitutionsTotal,
		answerRequestsTotal,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		service:             service,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		retrievalTotal:      retrievalTotal,
		retrievalEvidence:   retrievalEvidence,
		noEvidenceTotal:     noEvidenceTotal,
		retrievalFailed:     retrievalFailed,
		pathDegradedTotal:   pathDegradedTotal,
		pathDuration:        pathDuration,
		substitutionsTotal:  substitutionsTotal,
		answerRequestsTotal: answerRequestsTotal,
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
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}"
	case strings.HasPrefix(path, "/v1/entities/"):
		return "/v1/entities/{entity_id}/aliases"
	default:
		return path
	}
}

// ObserveRetrieval implements the retrieval observer port.
func (m *HTTPServerMetrics) ObserveRetrieval(result *domain.RetrievalResult, err error) {
	var noEvidence *domain.NoEvidenceError
	switch {
	case errors.As(err, &noEvidence):
		m.noEvidenceTotal.WithLabelValues(m.service, string(noEvidence.Route)).Inc()
		return
	case err != nil:
		m.retrievalFailed.WithLabelValues(m.service, errorKind(err)).Inc()
		return
	case result == nil:
		return
	}

	route := string(result.Route)
	m.retrievalTotal.WithLabelValues(m.service, route, strconv.FormatBool(result.Degraded)).Inc()
	m.retrievalEvidence.WithLabelValues(m.service, route).Observe(float64(len(result.Evidence)))
	for _, item := range result.Evidence {
		if item.Fact != nil && item.Fact.Provenance != nil && item.Fact.Provenance.Substituted {
			m.substitutionsTotal.WithLabelValues(m.service).Inc()
		}
	}
}

func (m *HTTPServerMetrics) ObservePath(path domain.RetrievalPath, status domain.PathStatus, seconds float64) {
	m.pathDuration.WithLabelValues(m.service, string(path)).Observe(seconds)
	if status.Reason != "" {
		m.pathDegradedTotal.WithLabelValues(m.service, string(path), status.Reason).Inc()
	}
}

func (m *HTTPServerMetrics) RecordAnswer(err error) {
	status := "success"
	if err != nil {
		status = errorKind(err)
	}
	m.answerRequestsTotal.WithLabelValues(m.service, status).Inc()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	case domain.IsKind(err, domain.ErrBothPathsEmpty):
		return "no_evidence"
	case domain.IsKind(err, domain.ErrTemporary):
		return "temporary"
	case domain.IsKind(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
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

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
