package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine's Prometheus instrumentation surface: latency
// and count for the engine's four phase-boundary operations (build,
// insert, search, refit), index size gauges, an HNSW layer-population
// gauge, and an IVF+PQ compression-ratio gauge.
type Metrics struct {
	OperationLatency *prometheus.HistogramVec
	OperationTotal   *prometheus.CounterVec
	IndexSize        *prometheus.GaugeVec
	HNSWLayerSize    *prometheus.GaugeVec
	PQCompression    *prometheus.GaugeVec
}

// NewMetrics constructs and registers the engine's metrics against reg.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the
// global default registry across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vectordb",
			Name:      "operation_duration_seconds",
			Help:      "Latency of engine operations by algorithm and operation name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"algorithm", "operation"}),
		OperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vectordb",
			Name:      "operation_total",
			Help:      "Count of engine operations by algorithm, operation name, and outcome.",
		}, []string{"algorithm", "operation", "outcome"}),
		IndexSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vectordb",
			Name:      "index_record_count",
			Help:      "Live (non-hidden) record count per index.",
		}, []string{"algorithm"}),
		HNSWLayerSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vectordb",
			Name:      "hnsw_layer_population",
			Help:      "Number of nodes present at each HNSW layer.",
		}, []string{"layer"}),
		PQCompression: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vectordb",
			Name:      "ivfpq_compression_ratio",
			Help:      "Ratio of raw vector bytes to PQ-encoded bytes for an IVF+PQ index.",
		}, []string{"index"}),
	}

	reg.MustRegister(m.OperationLatency, m.OperationTotal, m.IndexSize, m.HNSWLayerSize, m.PQCompression)
	return m
}

// ObserveOperation records latency and outcome for a single engine
// operation.
func (m *Metrics) ObserveOperation(algorithm, operation string, seconds float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.OperationLatency.WithLabelValues(algorithm, operation).Observe(seconds)
	m.OperationTotal.WithLabelValues(algorithm, operation, outcome).Inc()
}
