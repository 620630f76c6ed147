// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sharedruntime

import (
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/runtimefeed/internal/config"
	"github.com/juju/runtimefeed/internal/store"
	"github.com/juju/runtimefeed/internal/store/driverstore"
	"github.com/juju/runtimefeed/internal/store/mgostore"
	"github.com/juju/runtimefeed/internal/worker/connsupervisor"
	"github.com/juju/runtimefeed/internal/worker/tailwatcher"
)

// NewDialer returns the dialer for the named driver.
func NewDialer(driver string) (store.Dialer, error) {
	switch driver {
	case config.DriverMgo:
		return mgostore.Dialer{}, nil
	case config.DriverMongo:
		return driverstore.Dialer{}, nil
	}
	return nil, errors.NotSupportedf("driver %q", driver)
}

// ConfigFrom builds a Config, with metrics collectors for both workers,
// from process settings.
func ConfigFrom(cfg config.Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	dialer, err := NewDialer(cfg.Driver)
	if err != nil {
		return Config{}, errors.Trace(err)
	}
	result := DefaultConfig(dialer)

	result.Supervisor.ConnectArgs = cfg.ConnectArgs()
	result.Supervisor.RetryDelay = cfg.ConnectRetryDelay
	result.Supervisor.Metrics = connsupervisor.NewMetricsCollector()

	result.Watcher.Database = cfg.Database
	result.Watcher.ConnectionPollInterval = cfg.ConnectionPollInterval
	result.Watcher.IdleRecheckInterval = cfg.IdleRecheckInterval
	result.Watcher.CycleDamping = cfg.CycleDamping
	result.Watcher.AwaitTimeout = cfg.AwaitTimeout
	result.Watcher.Metrics = tailwatcher.NewMetricsCollector()
	return result, nil
}

// Collectors returns the metrics collectors set in the config.
func (config Config) Collectors() []prometheus.Collector {
	var collectors []prometheus.Collector
	if config.Supervisor.Metrics != nil {
		collectors = append(collectors, config.Supervisor.Metrics)
	}
	if config.Watcher.Metrics != nil {
		collectors = append(collectors, config.Watcher.Metrics)
	}
	return collectors
}
