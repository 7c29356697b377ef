package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Autopsias/raglite/internal/core/domain"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec

	factsTotal  prometheus.Counter
	chunksTotal prometheus.Counter
	tablesTotal *prometheus.CounterVec
	issuesTotal *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglite",
			Subsystem: "worker",
			Name:      "document_process_total",
			Help:      "Total processed documents by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raglite",
			Subsystem: "worker",
			Name:      "document_process_duration_seconds",
			Help:      "Document processing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raglite",
			Subsystem: "worker",
			Name:      "document_process_in_flight",
			Help:      "Number of in-flight document processing tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raglite",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between document creation and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	factsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "raglite",
			Subsystem:   "ingestion",
			Name:        "facts_total",
			Help:        "Total facts written to the structured store.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	chunksTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "raglite",
			Subsystem:   "ingestion",
			Name:        "chunks_total",
			Help:        "Total chunks written to the vector store.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	tablesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglite",
			Subsystem: "ingestion",
			Name:      "tables_total",
			Help:      "Total normalized tables by detected orientation.",
		},
		[]string{"service", "orientation"},
	)
	issuesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglite",
			Subsystem: "ingestion",
			Name:      "issues_total",
			Help:      "Total recoverable ingestion issues by kind.",
		},
		[]string{"service", "kind"},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, queueLag, factsTotal, chunksTotal, tablesTotal, issuesTotal)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		factsTotal:      factsTotal,
		chunksTotal:     chunksTotal,
		tablesTotal:     tablesTotal,
		issuesTotal:     issuesTotal,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		queueLag:        queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(service string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.processTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

// ObserveIngestion implements the ingestion observer port.
func (m *WorkerMetrics) ObserveIngestion(report domain.IngestionReport) {
	m.factsTotal.Add(float64(report.Facts))
	m.chunksTotal.Add(float64(report.Chunks))
	for _, table := range report.Tables {
		m.tablesTotal.WithLabelValues(m.service, string(table.Orientation)).Inc()
	}
	for _, issue := range report.Issues {
		m.issuesTotal.WithLabelValues(m.service, string(issue.Kind)).Inc()
	}
}
