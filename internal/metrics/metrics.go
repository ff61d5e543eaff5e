// Package metrics holds the Prometheus instruments shared by the run loop,
// hub, and API. Registered once on the default registry and served at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the instrument set. One instance per process.
type Metrics struct {
	TickDuration     prometheus.Histogram
	PolicyLatency    prometheus.Histogram
	Decisions        *prometheus.CounterVec
	EventsAppended   prometheus.Counter
	HubDrops         prometheus.Counter
	HubEvictions     prometheus.Counter
	ActiveRuns       prometheus.Gauge
	SimErrors        prometheus.Counter
	StagnationAlerts prometheus.Counter
}

// New registers the instrument set on the default registry.
func New() *Metrics {
	return &Metrics{
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one control loop tick.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		PolicyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "policy_eval_seconds",
			Help:      "Latency of one policy evaluation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 10),
		}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "decisions_total",
			Help:      "Governance decisions by outcome.",
		}, []string{"decision"}),
		EventsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "events_appended_total",
			Help:      "Events appended to the chain of trust.",
		}),
		HubDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "hub_dropped_messages_total",
			Help:      "Broadcast messages dropped due to slow subscribers.",
		}),
		HubEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "hub_evicted_subscribers_total",
			Help:      "Subscribers evicted for sustained backpressure.",
		}),
		ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "active_runs",
			Help:      "Run loops currently executing.",
		}),
		SimErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "sim_errors_total",
			Help:      "Failed simulator calls.",
		}),
		StagnationAlerts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "stagnation_alerts_total",
			Help:      "Stagnation events appended.",
		}),
	}
}
