// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tailwatcher

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "runtimefeed"
	metricsSubsystem = "tail"
)

// Collector holds the prometheus metrics of a Watcher.
type Collector struct {
	Cycles     prometheus.Counter
	Dispatched prometheus.Counter
	Failures   *prometheus.CounterVec
	State      *prometheus.GaugeVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "cursor_cycles_total",
			Help:      "Total number of tailing cursors opened.",
		}),
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "documents_dispatched_total",
			Help:      "Total number of documents delivered to all listeners.",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "cycle_failures_total",
			Help:      "Total number of cursor cycles ended by an error, by failing step.",
		}, []string{"reason"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "state",
			Help:      "1 for the state the watcher is in, 0 for the others.",
		}, []string{"state"}),
	}
}

func (c *Collector) setState(state State) {
	for _, s := range AllStates {
		value := 0.0
		if s == state {
			value = 1
		}
		c.State.WithLabelValues(string(s)).Set(value)
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.Cycles.Describe(ch)
	c.Dispatched.Describe(ch)
	c.Failures.Describe(ch)
	c.State.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.Cycles.Collect(ch)
	c.Dispatched.Collect(ch)
	c.Failures.Collect(ch)
	c.State.Collect(ch)
}
