package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingestion, retrieval, generation and index metrics.
var (
	IngestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Total document ingestions by outcome",
		},
		[]string{"format", "status"},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "End-to-end ingestion duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	IngestedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingested_chunks",
			Help:      "Chunks produced per ingested document",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total answered queries by mode and outcome",
		},
		[]string{"mode", "status"}, // mode: batch/stream; status: ok/empty/error
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_chunks",
			Help:      "Chunks returned per retrieval after tenant filtering",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total generation model calls",
		},
		[]string{"provider", "model", "mode", "status"},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generation model call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "model", "mode"},
	)

	GenerationTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tokens_total",
			Help:      "Total generation tokens consumed",
		},
		[]string{"provider", "model", "type"},
	)

	IndexEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_entries",
			Help:      "Visible entries in the vector index",
		},
	)

	IndexSaveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_save_duration_seconds",
			Help:      "Vector index snapshot save duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"status"},
	)
)

var ragMetricsRegistered bool

// RegisterRAGMetrics registers ingestion, retrieval, generation and index metrics.
// Must be called once from main.
func RegisterRAGMetrics() {
	if ragMetricsRegistered {
		return
	}
	prometheus.MustRegister(IngestionsTotal)
	prometheus.MustRegister(IngestionDuration)
	prometheus.MustRegister(IngestedChunks)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(RetrievedChunks)
	prometheus.MustRegister(GenerationRequestsTotal)
	prometheus.MustRegister(GenerationDuration)
	prometheus.MustRegister(GenerationTokensTotal)
	prometheus.MustRegister(IndexEntries)
	prometheus.MustRegister(IndexSaveDuration)
	ragMetricsRegistered = true
}

// ObserveIndexSave records one snapshot save attempt.
func ObserveIndexSave(start time.Time, err error) {
	IndexSaveDuration.WithLabelValues(StatusLabel(err)).Observe(time.Since(start).Seconds())
}

// StatusLabel maps an error to the "ok"/"error" label value.
func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
