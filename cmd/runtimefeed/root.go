// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/runtimefeed/cmd"
	"github.com/juju/runtimefeed/core/feed"
	"github.com/juju/runtimefeed/internal/config"
	"github.com/juju/runtimefeed/internal/logging"
	"github.com/juju/runtimefeed/internal/sharedruntime"
	"github.com/juju/runtimefeed/internal/store"
)

// sharedRuntime is the part of *sharedruntime.Runtime the subcommands
// use.
type sharedRuntime interface {
	AddListener(l feed.Listener) error
	StartMonitoring() error
	Connected() <-chan struct{}
	Session() (store.Session, error)
	Publish(ctx context.Context, doc feed.Document) error
	Report() map[string]interface{}
}

// subcommand is a command run against a started runtime.
type subcommand interface {
	cmd.Command
	setRuntime(rt sharedRuntime, settings config.Config)
}

const rootDoc = `
runtimefeed connects to the database holding the shared runtime
collection and then runs one of the following subcommands:

    watch      print every document appended to the collection
    publish    append a document to the collection
    info       show the connection and the collections of the database

Settings are read from the YAML file given with --config, if any, and
then overridden by the options given on the command line.
`

type rootCommand struct {
	stderr      io.Writer
	subcommands map[string]subcommand

	configPath     string
	driver         string
	host           string
	port           int
	database       string
	loggingConfig  string
	logFile        string
	metricsAddress string

	sub subcommand
}

func newRootCommand(stderr io.Writer) *rootCommand {
	c := &rootCommand{
		stderr:      stderr,
		subcommands: make(map[string]subcommand),
	}
	for _, sub := range []subcommand{
		&watchCommand{},
		&publishCommand{},
		&infoCommand{},
	} {
		c.subcommands[sub.Info().Name] = sub
	}
	return c
}

// Info is part of the cmd.Command interface.
func (c *rootCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "runtimefeed",
		Args:    "<" + strings.Join(c.subcommandNames(), "|") + "> [options] [args...]",
		Purpose: "follow and write to the shared runtime feed",
		Doc:     rootDoc,
	}
}

func (c *rootCommand) subcommandNames() []string {
	names := make([]string, 0, len(c.subcommands))
	for name := range c.subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetFlags is part of the cmd.Command interface.
func (c *rootCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to a YAML settings file")
	f.StringVar(&c.driver, "driver", "", `database driver ("mgo" or "mongo-driver")`)
	f.StringVar(&c.host, "host", "", "database server host")
	f.IntVar(&c.port, "port", 0, "database server port")
	f.StringVar(&c.database, "database", "", "database holding the shared collection")
	f.StringVar(&c.loggingConfig, "logging-config", "", "loggo specification, e.g. <root>=DEBUG")
	f.StringVar(&c.logFile, "log-file", "", "also write the log to this file")
	f.StringVar(&c.metricsAddress, "metrics-address", "", "serve prometheus metrics on this address")
}

// Init is part of the cmd.Command interface.
func (c *rootCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no subcommand specified")
	}
	sub, ok := c.subcommands[args[0]]
	if !ok {
		return errors.NotFoundf("subcommand %q", args[0])
	}
	if err := cmd.Parse(sub, cmd.NewFlagSet(sub, c.stderr), args[1:]); err != nil {
		return errors.Annotate(err, sub.Info().Name)
	}
	c.sub = sub
	return nil
}

// settings reads the config file, if any, and applies the command line
// overrides.
func (c *rootCommand) settings() (config.Config, error) {
	settings := config.Default()
	if c.configPath != "" {
		var err error
		if settings, err = config.Read(c.configPath); err != nil {
			return config.Config{}, errors.Trace(err)
		}
	}
	for _, o := range []struct {
		value  string
		target *string
	}{
		{c.driver, &settings.Driver},
		{c.host, &settings.Host},
		{c.database, &settings.Database},
		{c.loggingConfig, &settings.LoggingConfig},
		{c.logFile, &settings.LogFile},
		{c.metricsAddress, &settings.MetricsAddress},
	} {
		if o.value != "" {
			*o.target = o.value
		}
	}
	if c.port != 0 {
		settings.Port = c.port
	}
	if err := settings.Validate(); err != nil {
		return config.Config{}, errors.Trace(err)
	}
	return settings, nil
}

// Run is part of the cmd.Command interface.
func (c *rootCommand) Run(ctx *cmd.Context) (err error) {
	settings, err := c.settings()
	if err != nil {
		return errors.Trace(err)
	}
	logCloser, err := logging.Configure(loggo.DefaultContext(), logging.Config{
		LoggingConfig: settings.LoggingConfig,
		LogFile:       settings.LogFile,
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = logCloser.Close() }()

	rtConfig, err := sharedruntime.ConfigFrom(settings)
	if err != nil {
		return errors.Trace(err)
	}
	if settings.MetricsAddress != "" {
		registry := prometheus.NewRegistry()
		for _, collector := range rtConfig.Collectors() {
			if err := registry.Register(collector); err != nil {
				return errors.Annotate(err, "registering metrics")
			}
		}
		addr, stop, err := serveMetrics(settings.MetricsAddress, registry)
		if err != nil {
			return errors.Trace(err)
		}
		defer stop()
		logger.Infof("serving metrics on %s", addr)
	}

	rt, err := sharedruntime.New(rtConfig)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if stopErr := worker.Stop(rt); stopErr != nil && err == nil {
			err = errors.Trace(stopErr)
		}
	}()

	c.sub.setRuntime(rt, settings)
	return c.sub.Run(ctx)
}
