// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package connsupervisor provides a worker that keeps trying to establish
// a database session until the server answers a ping, and then publishes
// that session for other workers to use.
package connsupervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"gopkg.in/tomb.v2"

	"github.com/juju/runtimefeed/internal/store"
)

const (
	// ErrNotConnected is returned by Current until a session has been
	// established.
	ErrNotConnected = errors.ConstError("not connected")

	// DefaultRetryDelay is the fixed delay between connection attempts.
	DefaultRetryDelay = 200 * time.Millisecond
)

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...interface{})
	Warningf(message string, args ...interface{})
	Infof(message string, args ...interface{})
	Debugf(message string, args ...interface{})
}

// Config holds the dependencies and parameters of a Supervisor.
type Config struct {
	// Dialer opens the candidate sessions.
	Dialer store.Dialer
	// ConnectArgs says where and how to connect.
	ConnectArgs store.ConnectArgs
	// RetryDelay is the fixed pause after a failed attempt.
	RetryDelay time.Duration
	// Clock is used for the pauses between attempts.
	Clock clock.Clock
	// Logger is where connection failures are reported.
	Logger Logger
	// Metrics is optional.
	Metrics *Collector
}

// Validate ensures that the config values are valid.
func (config Config) Validate() error {
	if config.Dialer == nil {
		return errors.NotValidf("nil Dialer")
	}
	if err := config.ConnectArgs.Validate(); err != nil {
		return errors.Annotate(err, "ConnectArgs")
	}
	if config.RetryDelay <= 0 {
		return errors.NotValidf("non-positive RetryDelay")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// DefaultConfig returns a config using the wall clock, the default retry
// delay and a module logger; only the dialer and connect args need adding.
func DefaultConfig() Config {
	return Config{
		ConnectArgs: store.DefaultConnectArgs(),
		RetryDelay:  DefaultRetryDelay,
		Clock:       clock.WallClock,
		Logger:      loggo.GetLogger("runtimefeed.worker.connsupervisor"),
	}
}

// sessionBox lets a store.Session, which is an interface, be published
// through an atomic.Pointer.
type sessionBox struct {
	session store.Session
}

// Supervisor is a worker owning a single database session. A failure to
// reach the server is never fatal; it only delays the moment the session
// becomes available.
type Supervisor struct {
	tomb   tomb.Tomb
	config Config

	current   atomic.Pointer[sessionBox]
	connected chan struct{}

	mu       sync.Mutex
	attempts int
	lastErr  error
}

// NewWorker starts a Supervisor. It returns straight away; the session
// is established in the background.
func NewWorker(config Config) (*Supervisor, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Supervisor{
		config:    config,
		connected: make(chan struct{}),
	}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Supervisor) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Supervisor) Wait() error {
	return w.tomb.Wait()
}

// Current returns the established session, or ErrNotConnected if there
// is none yet. It never blocks.
func (w *Supervisor) Current() (store.Session, error) {
	box := w.current.Load()
	if box == nil {
		return nil, ErrNotConnected
	}
	return box.session, nil
}

// Connected returns a channel that is closed once a session is
// available.
func (w *Supervisor) Connected() <-chan struct{} {
	return w.connected
}

// Report is part of the dependency engine Reporter interface, to expose
// runtime details of the worker.
func (w *Supervisor) Report() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	report := map[string]interface{}{
		"address":   w.config.ConnectArgs.Address(),
		"connected": w.current.Load() != nil,
		"attempts":  w.attempts,
	}
	if w.lastErr != nil {
		report["last-error"] = w.lastErr.Error()
	}
	return report
}

func (w *Supervisor) loop() error {
	ctx := w.tomb.Context(context.Background())

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return w.attempt(ctx)
		},
		NotifyFunc: func(err error, attempt int) {
			w.config.Logger.Errorf("server %s not available (attempt %d): %v",
				w.config.ConnectArgs.Address(), attempt, err)
		},
		Attempts: retry.UnlimitedAttempts,
		Delay:    w.config.RetryDelay,
		Clock:    w.config.Clock,
		Stop:     w.tomb.Dying(),
	})
	if retry.IsRetryStopped(err) {
		return tomb.ErrDying
	} else if err != nil {
		return errors.Trace(err)
	}

	w.config.Logger.Infof("connected to %s", w.config.ConnectArgs.Address())
	<-w.tomb.Dying()
	if box := w.current.Load(); box != nil {
		box.session.Close()
	}
	return tomb.ErrDying
}

// attempt dials the server and pings it. The session is published only
// once the ping succeeds; a session that fails the ping is closed.
func (w *Supervisor) attempt(ctx context.Context) error {
	w.recordAttempt(nil)
	session, err := w.config.Dialer.Dial(ctx, w.config.ConnectArgs)
	if err != nil {
		w.recordAttempt(err)
		return errors.Trace(err)
	}
	if err := session.Ping(ctx); err != nil {
		session.Close()
		w.recordAttempt(err)
		return errors.Annotate(err, "probing server")
	}

	if w.config.Metrics != nil {
		w.config.Metrics.Connected.Set(1)
	}
	w.current.Store(&sessionBox{session: session})
	close(w.connected)
	return nil
}

func (w *Supervisor) recordAttempt(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		w.attempts++
		if w.config.Metrics != nil {
			w.config.Metrics.Attempts.Inc()
		}
		return
	}
	w.lastErr = err
	if w.config.Metrics != nil {
		w.config.Metrics.Failures.Inc()
	}
}
