// Package metrics exposes Prometheus collectors for bundle loads,
// diagnostics and change batches. A nil *Metrics is a no-op.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/sddbundle/internal/models"
)

// Batch outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeReverted  = "reverted"
	OutcomeFailed    = "failed"
	OutcomePreview   = "preview"
)

// Metrics holds the collectors.
type Metrics struct {
	registry     *prometheus.Registry
	loads        *prometheus.CounterVec
	loadDuration prometheus.Histogram
	diagnostics  *prometheus.GaugeVec
	entities     prometheus.Gauge
	batches      *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sddbundle",
			Name:      "loads_total",
			Help:      "Bundle loads by outcome.",
		}, []string{"outcome"}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sddbundle",
			Name:      "load_duration_seconds",
			Help:      "Time to load and validate a bundle.",
			Buckets:   prometheus.DefBuckets,
		}),
		diagnostics: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sddbundle",
			Name:      "diagnostics",
			Help:      "Current diagnostics by severity and source.",
		}, []string{"severity", "source"}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sddbundle",
			Name:      "entities",
			Help:      "Entities in the current snapshot.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sddbundle",
			Name:      "change_batches_total",
			Help:      "Change batches by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.loads, m.loadDuration, m.diagnostics, m.entities, m.batches)
	return m
}

// ObserveLoad records one load.
func (m *Metrics) ObserveLoad(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.loads.WithLabelValues(outcome).Inc()
	m.loadDuration.Observe(took.Seconds())
}

// SetSnapshot publishes the entity count and diagnostic totals of the current snapshot.
func (m *Metrics) SetSnapshot(entities int, diags []models.Diagnostic) {
	if m == nil {
		return
	}
	m.entities.Set(float64(entities))
	m.diagnostics.Reset()
	for _, sev := range []models.Severity{models.SeverityError, models.SeverityWarning} {
		for _, src := range []models.Source{models.SourceSchema, models.SourceLint, models.SourceGate} {
			m.diagnostics.WithLabelValues(string(sev), string(src)).Set(0)
		}
	}
	for _, d := range diags {
		m.diagnostics.WithLabelValues(string(d.Severity), string(d.Source)).Inc()
	}
}

// ObserveBatch records a change batch outcome.
func (m *Metrics) ObserveBatch(outcome string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(outcome).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
