// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sharedruntime ties the connection supervisor, the listener
// registry and the tail watcher together behind the handful of calls a
// process needs to take part in the shared runtime feed.
//
// Connecting starts as soon as a Runtime is created. Listeners can be
// added at any time; tailing only starts once StartMonitoring is called.
package sharedruntime

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	"github.com/juju/runtimefeed/core/feed"
	"github.com/juju/runtimefeed/internal/store"
	"github.com/juju/runtimefeed/internal/worker/connsupervisor"
	"github.com/juju/runtimefeed/internal/worker/tailwatcher"
)

// ErrStopped is returned by StartMonitoring once the runtime has been
// killed.
const ErrStopped = errors.ConstError("runtime stopped")

// Config holds the configuration of both workers. The watcher's Source
// and Dispatcher are provided by the Runtime and must be left unset.
type Config struct {
	Supervisor connsupervisor.Config
	Watcher    tailwatcher.Config
}

// DefaultConfig returns the default configuration for the dialer.
func DefaultConfig(dialer store.Dialer) Config {
	supervisor := connsupervisor.DefaultConfig()
	supervisor.Dialer = dialer
	return Config{
		Supervisor: supervisor,
		Watcher:    tailwatcher.DefaultConfig(),
	}
}

// Validate ensures that the config values are valid.
func (config Config) Validate() error {
	if err := config.Supervisor.Validate(); err != nil {
		return errors.Annotate(err, "supervisor")
	}
	if config.Watcher.Source != nil {
		return errors.NotValidf("preset watcher Source")
	}
	if config.Watcher.Dispatcher != nil {
		return errors.NotValidf("preset watcher Dispatcher")
	}
	return nil
}

// Runtime is a process's handle on the shared runtime feed.
type Runtime struct {
	tomb       tomb.Tomb
	config     Config
	registry   *feed.Registry
	supervisor *connsupervisor.Supervisor

	mu      sync.Mutex
	watcher *tailwatcher.Watcher
}

// New starts connecting to the database in the background and returns
// straight away.
func New(config Config) (*Runtime, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	registry := feed.NewRegistry()
	watcherConfig := config.Watcher
	watcherConfig.Dispatcher = registry
	watcherConfig.Source = noSource{}
	if err := watcherConfig.Validate(); err != nil {
		return nil, errors.Annotate(err, "watcher")
	}

	supervisor, err := connsupervisor.NewWorker(config.Supervisor)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r := &Runtime{
		config:     config,
		registry:   registry,
		supervisor: supervisor,
	}
	r.tomb.Go(r.loop)
	return r, nil
}

// AddListener registers a listener for every document seen from now on.
func (r *Runtime) AddListener(l feed.Listener) error {
	return errors.Trace(r.registry.Register(l))
}

// StartMonitoring starts tailing the shared collection. Calling it again
// has no effect.
func (r *Runtime) StartMonitoring() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.tomb.Dying():
		return ErrStopped
	default:
	}
	if r.watcher != nil {
		return nil
	}
	config := r.config.Watcher
	config.Source = r.supervisor
	config.Dispatcher = r.registry
	w, err := tailwatcher.NewWorker(config)
	if err != nil {
		return errors.Trace(err)
	}
	r.watcher = w
	return nil
}

// Session returns the current database session, or an error satisfying
// errors.Is(err, connsupervisor.ErrNotConnected) until there is one.
func (r *Runtime) Session() (store.Session, error) {
	return r.supervisor.Current()
}

// Connected returns a channel that is closed once a session is
// available.
func (r *Runtime) Connected() <-chan struct{} {
	return r.supervisor.Connected()
}

// Publish appends a document to the shared collection, creating the
// collection first if needed.
func (r *Runtime) Publish(ctx context.Context, doc feed.Document) error {
	session, err := r.supervisor.Current()
	if err != nil {
		return errors.Trace(err)
	}
	coll, err := store.EnsureCollection(ctx, session,
		r.config.Watcher.Database, r.config.Watcher.CollectionName, r.config.Watcher.CollectionSize)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(coll.Insert(ctx, doc), "publishing to %s", coll.Name())
}

// Report is part of the dependency engine Reporter interface.
func (r *Runtime) Report() map[string]interface{} {
	report := map[string]interface{}{
		"connection": r.supervisor.Report(),
		"listeners":  r.registry.Len(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		report["watcher"] = r.watcher.Report()
	}
	return report
}

// Kill is part of the worker.Worker interface.
func (r *Runtime) Kill() {
	r.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (r *Runtime) Wait() error {
	return r.tomb.Wait()
}

// loop stops the watcher before the supervisor, so that the session is
// not closed under an open cursor.
func (r *Runtime) loop() error {
	<-r.tomb.Dying()

	r.mu.Lock()
	watcher := r.watcher
	r.mu.Unlock()

	var err error
	if watcher != nil {
		err = errors.Annotate(worker.Stop(watcher), "stopping tail watcher")
	}
	if serr := worker.Stop(r.supervisor); serr != nil && err == nil {
		err = errors.Annotate(serr, "stopping connection supervisor")
	}
	return err
}

// noSource stands in for the supervisor when validating the watcher
// config before the supervisor exists.
type noSource struct{}

func (noSource) Current() (store.Session, error) {
	return nil, connsupervisor.ErrNotConnected
}
