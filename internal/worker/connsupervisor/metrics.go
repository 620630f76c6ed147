// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package connsupervisor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "runtimefeed"
	metricsSubsystem = "connection"
)

// Collector holds the prometheus metrics of a Supervisor.
type Collector struct {
	Attempts  prometheus.Counter
	Failures  prometheus.Counter
	Connected prometheus.Gauge
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "attempts_total",
			Help:      "Total number of connection attempts.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "failures_total",
			Help:      "Total number of failed connection attempts.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connected",
			Help:      "1 once a session to the database is established.",
		}),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.Attempts.Describe(ch)
	c.Failures.Describe(ch)
	c.Connected.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.Attempts.Collect(ch)
	c.Failures.Collect(ch)
	c.Connected.Collect(ch)
}
