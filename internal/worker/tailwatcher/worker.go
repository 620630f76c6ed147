// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package tailwatcher provides the worker that tails the shared runtime
// collection and hands every new document to the registered listeners.
//
// The worker cycles through a small state machine for as long as it
// runs:
//
//	waiting-for-connection -> provisioning -> tailing -> cursor-dead
//	                               ^                          |
//	                               +--------------------------+
//
// Tailing cursors on capped collections are not stable. The server drops
// them when the collection is empty or recreated and when the connection
// breaks, and a cursor can stop being alive without reporting an error.
// Every way out of the tailing state is therefore handled the same way:
// close the cursor, pause, provision again and open a new cursor.
// Documents still held by the collection are delivered again by the new
// cursor, so delivery is at-least-once.
package tailwatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/tomb.v2"

	"github.com/juju/runtimefeed/core/feed"
	"github.com/juju/runtimefeed/internal/store"
)

const (
	// DefaultConnectionPollInterval is how often the connection source is
	// asked for a session while there is none.
	DefaultConnectionPollInterval = 100 * time.Millisecond

	// DefaultIdleRecheckInterval is the pause after a read that returned
	// no documents, before the cursor is checked and read again.
	DefaultIdleRecheckInterval = 200 * time.Millisecond

	// DefaultCycleDamping is the pause between closing a cursor and
	// provisioning again, so that a cursor that dies straight away does
	// not turn into a tight reconnect loop.
	DefaultCycleDamping = 2 * time.Second

	// DefaultAwaitTimeout is how long a single cursor read waits on the
	// server for new documents.
	DefaultAwaitTimeout = time.Second
)

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...interface{})
	Warningf(message string, args ...interface{})
	Infof(message string, args ...interface{})
	Debugf(message string, args ...interface{})
}

// ConnectionSource provides the current database session. It returns an
// error while no session is available.
type ConnectionSource interface {
	Current() (store.Session, error)
}

// Dispatcher receives every document read from the collection, in
// collection order. *feed.Registry is the usual implementation.
type Dispatcher interface {
	Dispatch(doc feed.Document) error
}

// Config holds the dependencies and parameters of a Watcher.
type Config struct {
	Source     ConnectionSource
	Dispatcher Dispatcher

	Database       string
	CollectionName string
	CollectionSize int

	ConnectionPollInterval time.Duration
	IdleRecheckInterval    time.Duration
	CycleDamping           time.Duration
	AwaitTimeout           time.Duration

	Clock  clock.Clock
	Logger Logger
	// Metrics is optional.
	Metrics *Collector
}

// DefaultConfig returns a config for the shared runtime collection in the
// default database, with the default intervals, the wall clock and a
// module logger. Source and Dispatcher still need to be set.
func DefaultConfig() Config {
	return Config{
		Database:               feed.DefaultDatabase,
		CollectionName:         feed.CollectionName,
		CollectionSize:         feed.CollectionSize,
		ConnectionPollInterval: DefaultConnectionPollInterval,
		IdleRecheckInterval:    DefaultIdleRecheckInterval,
		CycleDamping:           DefaultCycleDamping,
		AwaitTimeout:           DefaultAwaitTimeout,
		Clock:                  clock.WallClock,
		Logger:                 loggo.GetLogger("runtimefeed.worker.tailwatcher"),
	}
}

// Validate ensures that the config values are valid.
func (config Config) Validate() error {
	if config.Source == nil {
		return errors.NotValidf("nil Source")
	}
	if config.Dispatcher == nil {
		return errors.NotValidf("nil Dispatcher")
	}
	if config.Database == "" {
		return errors.NotValidf("empty Database")
	}
	if config.CollectionName == "" {
		return errors.NotValidf("empty CollectionName")
	}
	if config.CollectionSize <= 0 {
		return errors.NotValidf("non-positive CollectionSize")
	}
	if config.ConnectionPollInterval <= 0 {
		return errors.NotValidf("non-positive ConnectionPollInterval")
	}
	if config.IdleRecheckInterval <= 0 {
		return errors.NotValidf("non-positive IdleRecheckInterval")
	}
	if config.CycleDamping <= 0 {
		return errors.NotValidf("non-positive CycleDamping")
	}
	if config.AwaitTimeout <= 0 {
		return errors.NotValidf("non-positive AwaitTimeout")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Watcher tails the shared collection until it is killed.
type Watcher struct {
	tomb   tomb.Tomb
	config Config

	// internalStates is used by tests to follow state transitions.
	internalStates chan<- State

	mu         sync.Mutex
	state      State
	cycles     int
	dispatched int
	failures   int
	lastErr    error
}

// NewWorker starts a Watcher.
func NewWorker(config Config) (*Watcher, error) {
	return newWorker(config, nil)
}

func newWorker(config Config, internalStates chan<- State) (*Watcher, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Watcher{
		config:         config,
		internalStates: internalStates,
	}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Watcher) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Watcher) Wait() error {
	return w.tomb.Wait()
}

// State returns the state the watcher is currently in.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Report is part of the dependency engine Reporter interface, to expose
// runtime details of the worker.
func (w *Watcher) Report() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	report := map[string]interface{}{
		"collection":          w.namespace(),
		"state":               string(w.state),
		"cursor-cycles":       w.cycles,
		"documents-delivered": w.dispatched,
		"cycle-failures":      w.failures,
	}
	if w.lastErr != nil {
		report["last-error"] = w.lastErr.Error()
	}
	return report
}

func (w *Watcher) namespace() string {
	return w.config.Database + "." + w.config.CollectionName
}

func (w *Watcher) loop() error {
	ctx := w.tomb.Context(context.Background())
	for {
		session, err := w.waitForConnection()
		if err != nil {
			return err
		}

		err = w.tail(ctx, session)
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		default:
		}
		if err != nil {
			w.recordFailure(err)
			w.config.Logger.Errorf("tailing %s: %v", w.namespace(), err)
		}

		w.setState(StateCursorDead)
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case <-w.config.Clock.After(w.config.CycleDamping):
		}
	}
}

// waitForConnection polls the connection source until it hands out a
// session.
func (w *Watcher) waitForConnection() (store.Session, error) {
	for waiting := false; ; waiting = true {
		session, err := w.config.Source.Current()
		if err == nil {
			return session, nil
		}
		if !waiting {
			w.setState(StateWaitingForConnection)
			w.config.Logger.Debugf("waiting for connection: %v", err)
		}
		select {
		case <-w.tomb.Dying():
			return nil, tomb.ErrDying
		case <-w.config.Clock.After(w.config.ConnectionPollInterval):
		}
	}
}

// tail runs a single cursor cycle: provision the collection, open a
// cursor and deliver documents until the cursor dies or anything fails.
// The cursor is always closed before returning.
func (w *Watcher) tail(ctx context.Context, session store.Session) error {
	w.setState(StateProvisioning)
	coll, err := store.EnsureCollection(ctx, session,
		w.config.Database, w.config.CollectionName, w.config.CollectionSize)
	if err != nil {
		return &cycleError{reason: reasonProvisioning, err: err}
	}
	cursor, err := coll.Tail(ctx, w.config.AwaitTimeout)
	if err != nil {
		return &cycleError{reason: reasonCursor, err: err}
	}
	w.recordCycle()
	w.config.Logger.Infof("cursor created on %s", w.namespace())
	defer func() {
		if err := cursor.Close(); err != nil {
			w.config.Logger.Warningf("closing cursor on %s: %v", w.namespace(), err)
		}
	}()

	w.setState(StateTailing)
	for cursor.Alive() {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		default:
		}

		docs, err := cursor.Next(ctx)
		if err != nil {
			return &cycleError{reason: reasonCursor, err: err}
		}
		if len(docs) == 0 {
			select {
			case <-w.tomb.Dying():
				return tomb.ErrDying
			case <-w.config.Clock.After(w.config.IdleRecheckInterval):
			}
			continue
		}
		for _, doc := range docs {
			if err := w.dispatch(doc); err != nil {
				return &cycleError{reason: reasonListener, err: err}
			}
		}
	}
	w.config.Logger.Infof("cursor on %s is no longer alive", w.namespace())
	return nil
}

// dispatch hands a single document to the dispatcher. A panicking
// listener is turned into an error so that it ends the cycle like any
// other listener failure.
func (w *Watcher) dispatch(doc feed.Document) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("listener panic: %v", r)
		}
	}()
	w.config.Logger.Debugf("got document %v", doc)
	if err := w.config.Dispatcher.Dispatch(doc); err != nil {
		return errors.Trace(err)
	}
	w.recordDispatched()
	return nil
}

func (w *Watcher) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()

	if w.config.Metrics != nil {
		w.config.Metrics.setState(state)
	}
	if w.internalStates == nil {
		return
	}
	select {
	case <-w.tomb.Dying():
	case w.internalStates <- state:
	}
}

func (w *Watcher) recordCycle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cycles++
	if w.config.Metrics != nil {
		w.config.Metrics.Cycles.Inc()
	}
}

func (w *Watcher) recordDispatched() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dispatched++
	if w.config.Metrics != nil {
		w.config.Metrics.Dispatched.Inc()
	}
}

func (w *Watcher) recordFailure(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures++
	w.lastErr = err
	if w.config.Metrics == nil {
		return
	}
	reason := reasonCursor
	var cerr *cycleError
	if errors.As(err, &cerr) {
		reason = cerr.reason
	}
	w.config.Metrics.Failures.WithLabelValues(reason).Inc()
}

const (
	reasonProvisioning = "provisioning"
	reasonCursor       = "cursor"
	reasonListener     = "listener"
)

// cycleError records which step of a cursor cycle failed.
type cycleError struct {
	reason string
	err    error
}

func (e *cycleError) Error() string {
	return fmt.Sprintf("%s: %v", e.reason, e.err)
}

func (e *cycleError) Unwrap() error {
	return e.err
}
