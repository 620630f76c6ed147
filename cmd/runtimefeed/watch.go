// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"

	"github.com/juju/runtimefeed/cmd"
	"github.com/juju/runtimefeed/core/feed"
	"github.com/juju/runtimefeed/internal/config"
	"github.com/juju/runtimefeed/internal/feedhub"
)

const watchDoc = `
watch prints every document appended to the shared collection until it
is interrupted, or until --count documents have been printed.

Documents still held by the collection when watching starts are printed
too, and the same document may be printed more than once when the
cursor on the collection has to be recreated.
`

type watchCommand struct {
	rt  sharedRuntime
	out cmd.Output

	count int
}

func (c *watchCommand) setRuntime(rt sharedRuntime, _ config.Config) {
	c.rt = rt
}

// Info is part of the cmd.Command interface.
func (c *watchCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "watch",
		Args:    "[options]",
		Purpose: "print documents appended to the shared collection",
		Doc:     watchDoc,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *watchCommand) SetFlags(f *gnuflag.FlagSet) {
	c.out.AddFlags(f, "json", cmd.DefaultFormatters)
	f.IntVar(&c.count, "count", 0, "stop after this many documents (0 means never)")
}

// Init is part of the cmd.Command interface.
func (c *watchCommand) Init(args []string) error {
	if c.count < 0 {
		return errors.NotValidf("--count %d", c.count)
	}
	return cmd.CheckEmpty(args)
}

// Run is part of the cmd.Command interface.
func (c *watchCommand) Run(ctx *cmd.Context) error {
	hub := pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
		Logger: loggo.GetLogger("runtimefeed.hub"),
	})
	if err := c.rt.AddListener(feed.ListenerFunc(logDocument)); err != nil {
		return errors.Trace(err)
	}
	if err := c.rt.AddListener(feedhub.NewPublisher(hub)); err != nil {
		return errors.Trace(err)
	}

	// Output happens on the hub's subscriber goroutine, one document at
	// a time.
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	printed := 0
	unsubscribe := feedhub.Subscribe(hub, func(doc feed.Document) {
		// The hub may still deliver after --count is reached.
		if c.count > 0 && printed >= c.count {
			return
		}
		if err := c.out.Write(ctx, storedDocument(doc)); err != nil {
			finish(errors.Annotate(err, "writing document"))
			return
		}
		printed++
		if printed == c.count {
			finish(nil)
		}
	})
	defer unsubscribe()

	if err := c.rt.StartMonitoring(); err != nil {
		return errors.Trace(err)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

func logDocument(doc feed.Document) error {
	logger.Debugf("received document %v", doc)
	return nil
}
