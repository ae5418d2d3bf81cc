package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for cadastral lookups and bulk imports.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Lookups            *prometheus.CounterVec
	LookupDuration     prometheus.Histogram
	BreakerState       prometheus.Gauge
	BreakerTransitions *prometheus.CounterVec
	ImportItems        *prometheus.CounterVec
	ImportRuns         prometheus.Counter
}

// New registers the metrics with reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "landsearch_nspd_lookups_total",
			Help: "Cadastral lookups by outcome (found, not_found, circuit_open, failure, cancelled)",
		}, []string{"outcome"}),
		LookupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "landsearch_nspd_lookup_duration_seconds",
			Help:    "Duration of upstream cadastral requests",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "landsearch_nspd_circuit_state",
			Help: "Circuit breaker state of the newest client (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "landsearch_nspd_circuit_transitions_total",
			Help: "Circuit breaker transitions by target state",
		}, []string{"to"}),
		ImportItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "landsearch_import_items_total",
			Help: "Bulk import items by local status and upstream status",
		}, []string{"status", "nspd_status"}),
		ImportRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "landsearch_import_runs_total",
			Help: "Total number of bulk import runs started",
		}),
	}
}

// ObserveLookup records one lookup outcome and, when the upstream was called, its duration.
func (m *Metrics) ObserveLookup(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.LookupDuration.Observe(elapsed.Seconds())
	}
}

// SetBreakerState records a breaker transition.
func (m *Metrics) SetBreakerState(state int, name string) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
	m.BreakerTransitions.WithLabelValues(name).Inc()
}

// ResetBreakerState sets the state gauge without counting a transition. A new
// client starts closed, so the gauge follows the client currently in use.
func (m *Metrics) ResetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}

// IncImportItem counts one processed import item.
func (m *Metrics) IncImportItem(status, nspdStatus string) {
	if m == nil {
		return
	}
	m.ImportItems.WithLabelValues(status, nspdStatus).Inc()
}

// IncImportRun counts one started import run.
func (m *Metrics) IncImportRun() {
	if m == nil {
		return
	}
	m.ImportRuns.Inc()
}
