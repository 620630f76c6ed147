// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/mgo/v3/bson"
	"gopkg.in/yaml.v3"

	"github.com/juju/runtimefeed/cmd"
	"github.com/juju/runtimefeed/core/feed"
	"github.com/juju/runtimefeed/internal/config"
)

const publishDoc = `
publish appends one document, made of the given fields in order, to the
shared collection. The collection is created if it does not exist yet.

Values are read as YAML scalars, so 3 is a number, true is a boolean
and anything that is not a number or boolean is a string:

    runtimefeed publish event=restart unit=web/0 attempt=3
`

const defaultWaitTimeout = 10 * time.Second

type publishCommand struct {
	rt sharedRuntime

	timeout time.Duration
	doc     feed.Document
}

func (c *publishCommand) setRuntime(rt sharedRuntime, _ config.Config) {
	c.rt = rt
}

// Info is part of the cmd.Command interface.
func (c *publishCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "publish",
		Args:    "[options] <field>=<value> ...",
		Purpose: "append a document to the shared collection",
		Doc:     publishDoc,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *publishCommand) SetFlags(f *gnuflag.FlagSet) {
	f.DurationVar(&c.timeout, "timeout", defaultWaitTimeout, "how long to wait for the database")
}

// Init is part of the cmd.Command interface.
func (c *publishCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no fields specified")
	}
	doc, err := parseFields(args)
	if err != nil {
		return errors.Trace(err)
	}
	c.doc = doc
	return nil
}

// parseFields turns field=value arguments into a document.
func parseFields(args []string) (feed.Document, error) {
	doc := make(feed.Document, 0, len(args))
	seen := make(map[string]bool)
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, errors.NotValidf("field %q, expected <field>=<value>", arg)
		}
		if seen[name] {
			return nil, errors.AlreadyExistsf("field %q", name)
		}
		seen[name] = true

		var value interface{} = raw
		var scalar interface{}
		if err := yaml.Unmarshal([]byte(raw), &scalar); err == nil {
			switch scalar.(type) {
			case int, float64, bool:
				value = scalar
			}
		}
		doc = append(doc, bson.DocElem{Name: name, Value: value})
	}
	return doc, nil
}

// Run is part of the cmd.Command interface.
func (c *publishCommand) Run(ctx *cmd.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := waitConnected(waitCtx, c.rt); err != nil {
		return errors.Trace(err)
	}
	if err := c.rt.Publish(waitCtx, c.doc); err != nil {
		return errors.Trace(err)
	}
	logger.Infof("published %v", c.doc)
	return nil
}

// waitConnected waits for the runtime's session to become available.
func waitConnected(ctx context.Context, rt sharedRuntime) error {
	select {
	case <-rt.Connected():
		return nil
	case <-ctx.Done():
		return errors.Annotate(ctx.Err(), "waiting for the database")
	}
}
