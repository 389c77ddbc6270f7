// Package metrics exposes the operational Prometheus surface named in
// SPEC_FULL.md §6 ("Ambient addition — HTTP surface"): phase, TSS,
// polling rate, and outbox progress gauges, collected through a
// private registry rather than the global default one so tests never
// collide on metric names.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles the operational gauges/counters. One instance is
// constructed at bootstrap and passed by reference to the event-bus
// consumer in cmd/marinegrid, matching the "no global mutable state"
// rule.
type Collectors struct {
	registry *prometheus.Registry

	Phase              *prometheus.GaugeVec
	TSS                prometheus.Gauge
	PollingRateHz      prometheus.Gauge
	AlertsFired        *prometheus.CounterVec
	OutboxUploaded     prometheus.Counter
	OutboxPending      prometheus.Gauge
	OutboxFailed       prometheus.Gauge
	SeedFreshness      *prometheus.GaugeVec
	DivergenceCaptured *prometheus.CounterVec
}

// New constructs and registers every collector against a fresh
// registry, returned alongside so the HTTP surface can hand it to
// promhttp.HandlerFor.
func New() (*Collectors, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	c := &Collectors{
		registry: reg,
		Phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "marinegrid",
			Name:      "emergency_phase",
			Help:      "1 for the current EmergencyStateMachine phase, 0 otherwise, labeled by phase name.",
		}, []string{"phase"}),
		TSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marinegrid",
			Name:      "trend_severity_score",
			Help:      "Current Trend Severity Score, 0-100.",
		}),
		PollingRateHz: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marinegrid",
			Name:      "polling_rate_hz",
			Help:      "Current sensor polling rate in Hz.",
		}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marinegrid",
			Name:      "alerts_fired_total",
			Help:      "Count of PatternMatcher alerts fired, labeled by level.",
		}, []string{"level"}),
		OutboxUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marinegrid",
			Name:      "outbox_uploaded_total",
			Help:      "Count of divergence snapshots successfully uploaded.",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marinegrid",
			Name:      "outbox_pending",
			Help:      "Current count of outbox entries awaiting upload.",
		}),
		OutboxFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marinegrid",
			Name:      "outbox_failed",
			Help:      "Current count of outbox entries that exhausted retries.",
		}),
		SeedFreshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "marinegrid",
			Name:      "seed_freshness",
			Help:      "1 for the current seed freshness bucket, 0 otherwise, labeled by bucket name.",
		}, []string{"bucket"}),
		DivergenceCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marinegrid",
			Name:      "divergence_captured_total",
			Help:      "Count of captured divergence snapshots, labeled by severity.",
		}, []string{"severity"}),
	}

	reg.MustRegister(
		c.Phase, c.TSS, c.PollingRateHz, c.AlertsFired,
		c.OutboxUploaded, c.OutboxPending, c.OutboxFailed,
		c.SeedFreshness, c.DivergenceCaptured,
	)

	return c, reg
}

// SetPhase zeroes every known phase label and sets the current one to
// 1, so Grafana-style "current value" panels read correctly.
func (c *Collectors) SetPhase(phases []string, current string) {
	for _, p := range phases {
		v := 0.0
		if p == current {
			v = 1.0
		}
		c.Phase.WithLabelValues(p).Set(v)
	}
}
