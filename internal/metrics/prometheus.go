// Package metrics exports storage instance measurements to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/docstore/internal/storage"
)

// DefaultNamespace prefixes every metric name unless configured otherwise.
const DefaultNamespace = "docstore"

// Metrics holds all Prometheus metrics for storage instances. It
// implements storage.Observer.
type Metrics struct {
	WritesTotal       *prometheus.CounterVec
	WriteDuration     *prometheus.HistogramVec
	ConflictsTotal    *prometheus.CounterVec
	ReadDuration      *prometheus.HistogramVec
	CountsTotal       *prometheus.CounterVec
	PurgedTotal       *prometheus.CounterVec
	StreamSubscribers *prometheus.GaugeVec
}

var _ storage.Observer = (*Metrics)(nil)

// NewMetrics creates the metrics and registers them with reg. A nil reg
// registers with the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		WritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "documents_written_total",
			Help:      "Total number of documents written, by collection and kind",
		}, []string{"collection", "kind"}),
		WriteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bulk_write_duration_seconds",
			Help:      "Histogram of bulk write durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection"}),
		ConflictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "write_conflicts_total",
			Help:      "Total number of write rows rejected as conflicts",
		}, []string{"collection"}),
		ReadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "read_duration_seconds",
			Help:      "Histogram of read operation durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection", "operation"}),
		CountsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "counts_total",
			Help:      "Total number of count operations, by mode",
		}, []string{"collection", "mode"}),
		PurgedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "tombstones_purged_total",
			Help:      "Total number of tombstones removed by cleanup",
		}, []string{"collection"}),
		StreamSubscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "change_stream_subscribers",
			Help:      "Current number of change stream subscribers",
		}, []string{"collection"}),
	}
}

func (m *Metrics) ObserveWrite(collection string, inserted, updated, conflicts int, took time.Duration) {
	m.WritesTotal.WithLabelValues(collection, "insert").Add(float64(inserted))
	m.WritesTotal.WithLabelValues(collection, "update").Add(float64(updated))
	m.ConflictsTotal.WithLabelValues(collection).Add(float64(conflicts))
	m.WriteDuration.WithLabelValues(collection).Observe(took.Seconds())
}

func (m *Metrics) ObserveRead(collection, op string, took time.Duration) {
	m.ReadDuration.WithLabelValues(collection, op).Observe(took.Seconds())
}

func (m *Metrics) ObserveCount(collection string, mode storage.CountMode) {
	m.CountsTotal.WithLabelValues(collection, string(mode)).Inc()
}

func (m *Metrics) ObservePurge(collection string, purged int) {
	m.PurgedTotal.WithLabelValues(collection).Add(float64(purged))
}

func (m *Metrics) SetSubscribers(collection string, n int) {
	m.StreamSubscribers.WithLabelValues(collection).Set(float64(n))
}
