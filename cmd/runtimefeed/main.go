// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command runtimefeed follows, writes to and inspects the shared runtime
// feed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/loggo/v2"

	"github.com/juju/runtimefeed/cmd"
)

var logger = loggo.GetLogger("runtimefeed.cmd.runtimefeed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cmd.Main(newRootCommand(os.Stderr), &cmd.Context{
		Context: ctx,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}, os.Args[1:])
	stop()
	os.Exit(code)
}
