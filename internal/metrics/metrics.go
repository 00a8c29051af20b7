// Package metrics exposes Prometheus metrics for the transition engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the engine's Prometheus metrics.
type Collector struct {
	transitions  *prometheus.CounterVec
	hookFailures prometheus.Counter
	contention   prometheus.Counter
	successors   prometheus.Counter
	tickErrors   prometheus.Counter

	tickDuration prometheus.Histogram

	windowsInProgress prometheus.Gauge
	windowsScheduled  prometheus.Gauge
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintd_transitions_total",
			Help: "Window transitions applied, by phase (start/end/cancel).",
		}, []string{"phase"}),
		hookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maintd_hook_failures_total",
			Help: "Action hook invocations that returned an error or timed out.",
		}),
		contention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maintd_guard_contention_total",
			Help: "Transitions deferred to the next tick because the per-server guard was held.",
		}),
		successors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maintd_successors_created_total",
			Help: "Recurring windows regenerated after completion.",
		}),
		tickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maintd_tick_errors_total",
			Help: "Poll ticks aborted because the store was unavailable.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "maintd_tick_duration_seconds",
			Help:    "Wall-clock duration of one poll tick.",
			Buckets: prometheus.DefBuckets,
		}),
		windowsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maintd_windows_in_progress",
			Help: "Windows currently in progress.",
		}),
		windowsScheduled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maintd_windows_scheduled",
			Help: "Windows currently scheduled.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.transitions,
			c.hookFailures,
			c.contention,
			c.successors,
			c.tickErrors,
			c.tickDuration,
			c.windowsInProgress,
			c.windowsScheduled,
		)
	}
	return c
}

func (c *Collector) RecordTransition(phase string) { c.transitions.WithLabelValues(phase).Inc() }
func (c *Collector) RecordHookFailure()            { c.hookFailures.Inc() }
func (c *Collector) RecordContention()             { c.contention.Inc() }
func (c *Collector) RecordSuccessor()              { c.successors.Inc() }
func (c *Collector) RecordTickError()              { c.tickErrors.Inc() }

func (c *Collector) ObserveTick(seconds float64) { c.tickDuration.Observe(seconds) }

func (c *Collector) SetWindowGauges(inProgress, scheduled int) {
	c.windowsInProgress.Set(float64(inProgress))
	c.windowsScheduled.Set(float64(scheduled))
}
