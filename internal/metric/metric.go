// Package metric exposes Prometheus metrics for the document store.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jsondb"

// Result label values.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Metrics contains the store metrics. A nil *Metrics records nothing.
type Metrics struct {
	Operations      *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	EntriesWritten  prometheus.Counter
	EntriesDeleted  prometheus.Counter
	Conflicts       prometheus.Counter
	EventsPublished *prometheus.CounterVec
	SchemaVersion   prometheus.Gauge
	Failed          prometheus.Gauge
}

// New creates the metrics and registers them with reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "operations",
				Name:      "total",
				Help:      "Total number of store operations",
			},
			[]string{"op", "result"},
		),

		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "operations",
				Name:      "duration_seconds",
				Help:      "Store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),

		EntriesWritten: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entries",
				Name:      "written_total",
				Help:      "Total number of index entries inserted or overwritten",
			},
		),

		EntriesDeleted: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entries",
				Name:      "deleted_total",
				Help:      "Total number of index entries removed",
			},
		),

		Conflicts: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "writes",
				Name:      "structural_conflicts_total",
				Help:      "Total number of structural conflicts resolved by last write wins",
			},
		),

		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of change events published",
			},
			[]string{"type"},
		),

		SchemaVersion: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "schema",
				Name:      "version",
				Help:      "Current schema version of the store",
			},
		),

		Failed: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "failed",
				Help:      "Store failed state (0=serving, 1=failed)",
			},
		),
	}
}

// RecordOperation counts an operation and observes its duration.
func (m *Metrics) RecordOperation(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.Duration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordWrite adds the entry counts of a write.
func (m *Metrics) RecordWrite(written, deleted, conflicts int) {
	if m == nil {
		return
	}
	m.EntriesWritten.Add(float64(written))
	m.EntriesDeleted.Add(float64(deleted))
	m.Conflicts.Add(float64(conflicts))
}

// RecordEvent counts a published event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordSchemaVersion sets the schema version gauge.
func (m *Metrics) RecordSchemaVersion(v int) {
	if m == nil {
		return
	}
	m.SchemaVersion.Set(float64(v))
}

// RecordFailed sets the failed state gauge.
func (m *Metrics) RecordFailed(failed bool) {
	if m == nil {
		return
	}
	value := 0.0
	if failed {
		value = 1.0
	}
	m.Failed.Set(value)
}
