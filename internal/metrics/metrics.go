package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "receipt_ocr"

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Receipts      *prometheus.CounterVec
	Extractions   *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
	SideEffects   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg when reg is not nil
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_processed_total",
			Help:      "Receipts processed, by outcome.",
		}, []string{"outcome"}),
		Extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Text extraction attempts, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Extraction cache lookups, by result.",
		}, []string{"result"}),
		SideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effects_total",
			Help:      "Post-processing steps, by step and outcome.",
		}, []string{"step", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"stage"}),
	}

	if reg != nil {
		reg.MustRegister(m.Receipts, m.Extractions, m.CacheLookups, m.SideEffects, m.StageDuration)
	}
	return m
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveReceipt counts a finished ProcessReceipt call
func (m *Metrics) ObserveReceipt(ok bool) {
	if m == nil {
		return
	}
	m.Receipts.WithLabelValues(outcome(ok)).Inc()
}

// ObserveExtraction counts one strategy run
func (m *Metrics) ObserveExtraction(strategy string, ok bool) {
	if m == nil {
		return
	}
	m.Extractions.WithLabelValues(strategy, outcome(ok)).Inc()
}

// ObserveCache counts a cache lookup
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveSideEffect counts one post-processing step
func (m *Metrics) ObserveSideEffect(step string, err error) {
	if m == nil {
		return
	}
	m.SideEffects.WithLabelValues(step, outcome(err == nil)).Inc()
}

// ObserveStage records how long a stage took since start
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
