// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config holds the settings of a runtimefeed process and reads
// them from YAML.
package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/juju/runtimefeed/core/feed"
	"github.com/juju/runtimefeed/internal/store"
	"github.com/juju/runtimefeed/internal/worker/connsupervisor"
	"github.com/juju/runtimefeed/internal/worker/tailwatcher"
)

const (
	// DriverMgo selects the github.com/juju/mgo/v3 backed store.
	DriverMgo = "mgo"

	// DriverMongo selects the go.mongodb.org/mongo-driver/v2 backed store.
	DriverMongo = "mongo-driver"

	// DefaultLoggingConfig is the loggo specification used when none is
	// configured.
	DefaultLoggingConfig = "<root>=INFO"
)

// Config is the complete configuration of a runtimefeed process.
type Config struct {
	Driver string `yaml:"driver"`

	Host                   string        `yaml:"host"`
	Port                   int           `yaml:"port"`
	SocketTimeout          time.Duration `yaml:"socket-timeout"`
	ServerSelectionTimeout time.Duration `yaml:"server-selection-timeout"`
	Database               string        `yaml:"database"`

	ConnectRetryDelay      time.Duration `yaml:"connect-retry-delay"`
	ConnectionPollInterval time.Duration `yaml:"connection-poll-interval"`
	IdleRecheckInterval    time.Duration `yaml:"idle-recheck-interval"`
	CycleDamping           time.Duration `yaml:"cycle-damping"`
	AwaitTimeout           time.Duration `yaml:"await-timeout"`

	LoggingConfig string `yaml:"logging-config"`
	// LogFile, when set, receives a copy of the log output. The file is
	// rotated by size.
	LogFile string `yaml:"log-file"`
	// MetricsAddress, when set, is where prometheus metrics are served.
	MetricsAddress string `yaml:"metrics-address"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	args := store.DefaultConnectArgs()
	return Config{
		Driver:                 DriverMgo,
		Host:                   args.Host,
		Port:                   args.Port,
		SocketTimeout:          args.SocketTimeout,
		ServerSelectionTimeout: args.ServerSelectionTimeout,
		Database:               feed.DefaultDatabase,
		ConnectRetryDelay:      connsupervisor.DefaultRetryDelay,
		ConnectionPollInterval: tailwatcher.DefaultConnectionPollInterval,
		IdleRecheckInterval:    tailwatcher.DefaultIdleRecheckInterval,
		CycleDamping:           tailwatcher.DefaultCycleDamping,
		AwaitTimeout:           tailwatcher.DefaultAwaitTimeout,
		LoggingConfig:          DefaultLoggingConfig,
	}
}

// Read reads a YAML config file. Keys missing from the file keep their
// default values.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading config file %q", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Annotatef(err, "config file %q", path)
	}
	return cfg, nil
}

// Parse decodes YAML config data over the defaults and validates the
// result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Annotate(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMgo, DriverMongo:
	default:
		return errors.NotValidf("driver %q", c.Driver)
	}
	if err := c.ConnectArgs().Validate(); err != nil {
		return errors.Trace(err)
	}
	if c.Database == "" {
		return errors.NotValidf("empty database")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"connect-retry-delay", c.ConnectRetryDelay},
		{"connection-poll-interval", c.ConnectionPollInterval},
		{"idle-recheck-interval", c.IdleRecheckInterval},
		{"cycle-damping", c.CycleDamping},
		{"await-timeout", c.AwaitTimeout},
	} {
		if d.value <= 0 {
			return errors.NotValidf("%s %v", d.name, d.value)
		}
	}
	return nil
}

// ConnectArgs returns the arguments used to dial the database server.
func (c Config) ConnectArgs() store.ConnectArgs {
	return store.ConnectArgs{
		Host:                   c.Host,
		Port:                   c.Port,
		SocketTimeout:          c.SocketTimeout,
		ServerSelectionTimeout: c.ServerSelectionTimeout,
	}
}
