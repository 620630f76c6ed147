// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"sort"
	"time"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/runtimefeed/cmd"
	"github.com/juju/runtimefeed/internal/config"
)

type infoCommand struct {
	rt       sharedRuntime
	settings config.Config
	out      cmd.Output

	timeout time.Duration
}

func (c *infoCommand) setRuntime(rt sharedRuntime, settings config.Config) {
	c.rt = rt
	c.settings = settings
}

// Info is part of the cmd.Command interface.
func (c *infoCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "info",
		Args:    "[options]",
		Purpose: "show the connection and the collections of the database",
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *infoCommand) SetFlags(f *gnuflag.FlagSet) {
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
	f.DurationVar(&c.timeout, "timeout", defaultWaitTimeout, "how long to wait for the database")
}

// Init is part of the cmd.Command interface.
func (c *infoCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

type databaseInfo struct {
	Driver      string                 `yaml:"driver" json:"driver"`
	Database    string                 `yaml:"database" json:"database"`
	Collections []string               `yaml:"collections" json:"collections"`
	Runtime     map[string]interface{} `yaml:"runtime" json:"runtime"`
}

// Run is part of the cmd.Command interface.
func (c *infoCommand) Run(ctx *cmd.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := waitConnected(waitCtx, c.rt); err != nil {
		return errors.Trace(err)
	}
	session, err := c.rt.Session()
	if err != nil {
		return errors.Trace(err)
	}
	names, err := session.CollectionNames(waitCtx, c.settings.Database)
	if err != nil {
		return errors.Annotatef(err, "listing collections in %q", c.settings.Database)
	}
	sort.Strings(names)
	return c.out.Write(ctx, databaseInfo{
		Driver:      c.settings.Driver,
		Database:    c.settings.Database,
		Collections: names,
		Runtime:     c.rt.Report(),
	})
}
