// Package metrics owns the Prometheus collectors for one matching session.
//
// Collectors are registered on a caller-supplied registry instead of the
// global default so several sessions (and tests) can coexist in one process.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bomatch"

// Recorder exposes typed recording helpers over the session collectors.
type Recorder struct {
	searches      prometheus.Counter
	stage2        prometheus.Counter
	searchLatency prometheus.Histogram

	assignments    *prometheus.CounterVec
	holds          *prometheus.CounterVec
	fallbacks      prometheus.Counter
	queueOverflows prometheus.Counter
	batchLatency   prometheus.Histogram
	suppressed     prometheus.Counter

	ledgerRejections *prometheus.CounterVec
	ledgerUsed       prometheus.Gauge
	ledgerHalted     prometheus.Gauge

	weights  *prometheus.GaugeVec
	tuneRuns prometheus.Counter
	falsePos prometheus.Counter
}

// New registers the session collectors on reg. A nil reg gets a fresh
// private registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Recorder{
		searches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Template searches executed",
		}),
		stage2: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "stage2_total",
			Help:      "Searches escalated to the exact second stage",
		}),
		searchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "latency_seconds",
			Help:      "Per-query template search latency",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		assignments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assign",
			Name:      "assignments_total",
			Help:      "Detections assigned, by resolution method",
		}, []string{"method"}),
		holds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assign",
			Name:      "holds_total",
			Help:      "Detections held for review, by reason",
		}, []string{"reason"}),
		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assign",
			Name:      "batch_fallbacks_total",
			Help:      "Batches that timed out and fell back to greedy",
		}),
		queueOverflows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assign",
			Name:      "queue_overflows_total",
			Help:      "Batches run synchronously because the queue was full",
		}),
		batchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assign",
			Name:      "batch_latency_seconds",
			Help:      "Optimal batch solve latency",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		suppressed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assign",
			Name:      "proximity_suppressed_total",
			Help:      "Assignments dropped by proximity suppression",
		}),
		ledgerRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rejections_total",
			Help:      "Candidates rejected by the ledger, by reason",
		}, []string{"reason"}),
		ledgerUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "used_units",
			Help:      "Units registered against the BOM",
		}),
		ledgerHalted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "halted",
			Help:      "1 when the ledger halted on an invariant violation",
		}),
		weights: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "weight",
			Help:      "Current fusion weight per modality",
		}, []string{"modality"}),
		tuneRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "tune_runs_total",
			Help:      "Auto-tuning passes executed",
		}),
		falsePos: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "false_positives_total",
			Help:      "Assignments reported as false positives",
		}),
	}
}

// Search records one completed template search.
func (r *Recorder) Search(stage2 bool, seconds float64) {
	if r == nil {
		return
	}
	r.searches.Inc()
	if stage2 {
		r.stage2.Inc()
	}
	r.searchLatency.Observe(seconds)
}

// Assigned records an assignment resolved by method.
func (r *Recorder) Assigned(method string) {
	if r == nil {
		return
	}
	r.assignments.WithLabelValues(method).Inc()
}

// Held records a detection placed on the hold list.
func (r *Recorder) Held(reason string) {
	if r == nil {
		return
	}
	r.holds.WithLabelValues(reason).Inc()
}

// BatchFallback records a batch timeout.
func (r *Recorder) BatchFallback() {
	if r == nil {
		return
	}
	r.fallbacks.Inc()
}

// QueueOverflow records a batch executed synchronously.
func (r *Recorder) QueueOverflow() {
	if r == nil {
		return
	}
	r.queueOverflows.Inc()
}

// BatchSolved observes the duration of one optimal batch solve.
func (r *Recorder) BatchSolved(seconds float64) {
	if r == nil {
		return
	}
	r.batchLatency.Observe(seconds)
}

// Suppressed records assignments removed by proximity suppression.
func (r *Recorder) Suppressed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.suppressed.Add(float64(n))
}

// LedgerRejected records a ledger validation failure.
func (r *Recorder) LedgerRejected(reason string) {
	if r == nil {
		return
	}
	r.ledgerRejections.WithLabelValues(reason).Inc()
}

// LedgerState publishes total usage and halt state.
func (r *Recorder) LedgerState(used int, halted bool) {
	if r == nil {
		return
	}
	r.ledgerUsed.Set(float64(used))
	if halted {
		r.ledgerHalted.Set(1)
	} else {
		r.ledgerHalted.Set(0)
	}
}

// Weights publishes the current fusion weights.
func (r *Recorder) Weights(img, meta, txt float64) {
	if r == nil {
		return
	}
	r.weights.WithLabelValues("image").Set(img)
	r.weights.WithLabelValues("meta").Set(meta)
	r.weights.WithLabelValues("text").Set(txt)
}

// Tuned records one auto-tuning pass.
func (r *Recorder) Tuned() {
	if r == nil {
		return
	}
	r.tuneRuns.Inc()
}

// FalsePositive records a reported false positive.
func (r *Recorder) FalsePositive() {
	if r == nil {
		return
	}
	r.falsePos.Inc()
}
