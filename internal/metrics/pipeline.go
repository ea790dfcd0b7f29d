// Package metrics exposes Prometheus collectors for the ingestion pipeline
// and the HTTP API, plus a rolling latency window for the stats endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docchunk"

// Document outcome labels.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

var (
	DocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents ingested, by parser and outcome",
		},
		[]string{"parser", "status"},
	)

	ChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunk records emitted, by parser",
		},
		[]string{"parser"},
	)

	DiagnosticsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Non-fatal ingestion diagnostics, by kind",
		},
		[]string{"kind"},
	)

	IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Single-document ingestion duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"parser"},
	)

	SinkRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_requests_total",
			Help:      "Vector store requests, by operation and outcome",
		},
		[]string{"op", "status"},
	)

	JobsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_queued",
			Help:      "Batch jobs waiting for a worker",
		},
	)
)

func init() {
	prometheus.MustRegister(DocumentsTotal)
	prometheus.MustRegister(ChunksTotal)
	prometheus.MustRegister(DiagnosticsTotal)
	prometheus.MustRegister(IngestDuration)
	prometheus.MustRegister(SinkRequestsTotal)
	prometheus.MustRegister(JobsQueued)
}

// ObserveDocument records the outcome of one document ingestion.
func ObserveDocument(parser, status string, chunks int, elapsed time.Duration) {
	if parser == "" {
		parser = "unknown"
	}
	DocumentsTotal.WithLabelValues(parser, status).Inc()
	IngestDuration.WithLabelValues(parser).Observe(elapsed.Seconds())
	if chunks > 0 {
		ChunksTotal.WithLabelValues(parser).Add(float64(chunks))
	}
}

// ObserveDiagnostic counts one non-fatal diagnostic.
func ObserveDiagnostic(kind string) {
	DiagnosticsTotal.WithLabelValues(kind).Inc()
}
