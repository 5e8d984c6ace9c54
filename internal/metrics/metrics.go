// Package metrics exposes Prometheus counters for the crop pipeline and store.
//
// A nil *Metrics is valid and records nothing, so callers never need to check
// whether metrics were enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons recorded by RecordDropped.
const (
	ReasonDegenerate    = "degenerate"
	ReasonMaxDetections = "max_detections"
	ReasonPersist       = "persist_failed"
)

// Metrics contains Prometheus metrics for crop processing and retention.
type Metrics struct {
	detectionsProcessed prometheus.Counter
	detectionsDropped   *prometheus.CounterVec
	cropsSaved          prometheus.Counter
	persistFailures     prometheus.Counter
	filesEvicted        *prometheus.CounterVec
	sweepDuration       prometheus.Histogram
	processDuration     prometheus.Histogram
}

// New creates metrics and registers them on registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.detectionsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detcrop_detections_processed_total",
		Help: "Detections that produced an output record",
	})

	m.detectionsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detcrop_detections_dropped_total",
			Help: "Detections dropped before producing a record",
		},
		[]string{"reason"},
	)

	m.cropsSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detcrop_crops_saved_total",
		Help: "Crop files written to the crops directory",
	})

	m.persistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detcrop_crop_persist_failures_total",
		Help: "Crop encode or write failures",
	})

	m.filesEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detcrop_files_evicted_total",
			Help: "Files removed by retention sweeps",
		},
		[]string{"kind"}, // kind: crop, temp
	)

	m.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detcrop_sweep_duration_seconds",
		Help:    "Time taken by a retention sweep",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	m.processDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detcrop_process_duration_seconds",
		Help:    "Time taken to process one detection batch",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
	})
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.detectionsProcessed.Describe(ch)
	m.detectionsDropped.Describe(ch)
	m.cropsSaved.Describe(ch)
	m.persistFailures.Describe(ch)
	m.filesEvicted.Describe(ch)
	m.sweepDuration.Describe(ch)
	m.processDuration.Describe(ch)
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.detectionsProcessed.Collect(ch)
	m.detectionsDropped.Collect(ch)
	m.cropsSaved.Collect(ch)
	m.persistFailures.Collect(ch)
	m.filesEvicted.Collect(ch)
	m.sweepDuration.Collect(ch)
	m.processDuration.Collect(ch)
}

// RecordProcessed counts one emitted record.
func (m *Metrics) RecordProcessed() {
	if m == nil {
		return
	}
	m.detectionsProcessed.Inc()
}

// RecordDropped counts one dropped detection.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.detectionsDropped.WithLabelValues(reason).Inc()
}

// RecordCropSaved counts one persisted crop.
func (m *Metrics) RecordCropSaved() {
	if m == nil {
		return
	}
	m.cropsSaved.Inc()
}

// RecordPersistFailure counts one failed crop write.
func (m *Metrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// RecordEvicted adds n removed files of the given kind.
func (m *Metrics) RecordEvicted(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.filesEvicted.WithLabelValues(kind).Add(float64(n))
}

// RecordSweepDuration observes one sweep.
func (m *Metrics) RecordSweepDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

// RecordProcessDuration observes one batch.
func (m *Metrics) RecordProcessDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.processDuration.Observe(d.Seconds())
}
