package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// defaultRegistry is the default Prometheus registry
	defaultRegistry = prometheus.DefaultRegisterer
)

// Metrics holds all pipeline metrics. It doubles as the pipeline's
// TimingSink: batch wall times are recorded per policy so FIFO and priority
// runs can be compared.
type Metrics struct {
	batchDuration  *prometheus.HistogramVec
	fileOperations *prometheus.CounterVec
	cipherBytes    *prometheus.CounterVec
	chunkTasks     *prometheus.CounterVec
	keyWraps       *prometheus.CounterVec
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return newMetricsWithRegistry(defaultRegistry)
}

// newMetricsWithRegistry creates a new metrics instance with a custom registry (for testing).
func newMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batch_duration_seconds",
				Help:    "Batch wall time per operation and scheduling policy",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"operation", "policy"},
		),
		fileOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "file_operations_total",
				Help: "Per-file operations by cipher mode and outcome",
			},
			[]string{"operation", "mode", "status"},
		),
		cipherBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cipher_bytes_total",
				Help: "Total plaintext bytes encrypted/decrypted",
			},
			[]string{"operation"},
		),
		chunkTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunk_tasks_total",
				Help: "Chunk tasks executed by the worker pool",
			},
			[]string{"operation"},
		),
		keyWraps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "key_wrap_operations_total",
				Help: "Data-key wrap/unwrap operations by outcome",
			},
			[]string{"operation", "status"},
		),
	}
}

// RecordBatch records a batch's elapsed wall time. Implements the
// pipeline's TimingSink interface.
func (m *Metrics) RecordBatch(operation, policy string, elapsed time.Duration) {
	m.batchDuration.WithLabelValues(operation, policy).Observe(elapsed.Seconds())
}

// RecordFileOperation records the outcome of one file's operation.
func (m *Metrics) RecordFileOperation(operation, mode, status string, bytes int64) {
	m.fileOperations.WithLabelValues(operation, mode, status).Inc()
	m.cipherBytes.WithLabelValues(operation).Add(float64(bytes))
}

// RecordChunkTask counts one executed chunk task.
func (m *Metrics) RecordChunkTask(operation string) {
	m.chunkTasks.WithLabelValues(operation).Inc()
}

// RecordKeyWrap records a wrap/unwrap outcome.
func (m *Metrics) RecordKeyWrap(operation, status string) {
	m.keyWraps.WithLabelValues(operation, status).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
