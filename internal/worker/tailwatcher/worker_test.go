// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tailwatcher_test

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gc "gopkg.in/check.v1"

	"github.com/juju/runtimefeed/core/feed"
	"github.com/juju/runtimefeed/internal/worker/tailwatcher"
)

const longWait = 10 * time.Second

type workerSuite struct {
	testing.IsolationSuite

	db       *fakeDB
	source   *fakeSource
	registry *feed.Registry
	metrics  *tailwatcher.Collector
}

var _ = gc.Suite(&workerSuite{})

func (s *workerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.db = newFakeDB()
	s.source = &fakeSource{session: s.db, connected: true}
	s.registry = feed.NewRegistry()
	s.metrics = tailwatcher.NewMetricsCollector()
}

func (s *workerSuite) config() tailwatcher.Config {
	return tailwatcher.Config{
		Source:                 s.source,
		Dispatcher:             s.registry,
		Database:               "hr",
		CollectionName:         "runtime",
		CollectionSize:         10000,
		ConnectionPollInterval: 5 * time.Millisecond,
		IdleRecheckInterval:    5 * time.Millisecond,
		CycleDamping:           20 * time.Millisecond,
		AwaitTimeout:           5 * time.Millisecond,
		Clock:                  clock.WallClock,
		Logger:                 loggo.GetLogger("test"),
		Metrics:                s.metrics,
	}
}

func (s *workerSuite) startWorker(c *gc.C) *tailwatcher.Watcher {
	w, err := tailwatcher.NewWorker(s.config())
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) {
		w.Kill()
		c.Check(w.Wait(), jc.ErrorIsNil)
	})
	return w
}

func (s *workerSuite) register(c *gc.C, r *recorder) *recorder {
	c.Assert(s.registry.Register(r), jc.ErrorIsNil)
	return r
}

func waitFor(c *gc.C, what string, cond func() bool) {
	deadline := time.After(longWait)
	for !cond() {
		select {
		case <-deadline:
			c.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitForValues(c *gc.C, r *recorder, n int) []int {
	waitFor(c, "documents", func() bool {
		return len(r.seen()) >= n
	})
	return r.seen()
}

func (s *workerSuite) TestValidate(c *gc.C) {
	tests := []struct {
		mutate func(*tailwatcher.Config)
		err    string
	}{{
		mutate: func(cfg *tailwatcher.Config) { cfg.Source = nil },
		err:    "nil Source not valid",
	}, {
		mutate: func(cfg *tailwatcher.Config) { cfg.Dispatcher = nil },
		err:    "nil Dispatcher not valid",
	}, {
		mutate: func(cfg *tailwatcher.Config) { cfg.Database = "" },
		err:    "empty Database not valid",
	}, {
		mutate: func(cfg *tailwatcher.Config) { cfg.CollectionName = "" },
		err:    "empty CollectionName not valid",
	}, {
		mutate: func(cfg *tailwatcher.Config) { cfg.CollectionSize = 0 },
		err:    "non-positive CollectionSize not valid",
	}, {
		mutate: func(cfg *tailwatcher.Config) { cfg.ConnectionPollInterval = 0 },
		err:    "non-positive ConnectionPollInterval not valid",
	}, {
		mutate: func(cfg *tailwatcher.Config) { cfg.IdleRecheckInterval = 0 },
		err:    "non-positive IdleRecheckInterval not valid",
	}, {
		mutate: func(cfg *tailwatcher.Config) { cfg.CycleDamping = 0 },
		err:    "non-positive CycleDamping not valid",
	}, {
		mutate: func(cfg *tailwatcher.Config) { cfg.AwaitTimeout = 0 },
		err:    "non-positive AwaitTimeout not valid",
	}, {
		mutate: func(cfg *tailwatcher.Config) { cfg.Clock = nil },
		err:    "nil Clock not valid",
	}, {
		mutate: func(cfg *tailwatcher.Config) { cfg.Logger = nil },
		err:    "nil Logger not valid",
	}}
	for i, test := range tests {
		c.Logf("test %d", i)
		cfg := s.config()
		test.mutate(&cfg)
		_, err := tailwatcher.NewWorker(cfg)
		c.Check(err, jc.ErrorIs, errors.NotValid)
		c.Check(err, gc.ErrorMatches, test.err)
	}
}

func (s *workerSuite) TestDefaultConfig(c *gc.C) {
	cfg := tailwatcher.DefaultConfig()
	c.Check(cfg.Database, gc.Equals, "hr")
	c.Check(cfg.CollectionName, gc.Equals, "runtime")
	c.Check(cfg.CollectionSize, gc.Equals, 10000)
	c.Check(cfg.ConnectionPollInterval, gc.Equals, 100*time.Millisecond)
	c.Check(cfg.IdleRecheckInterval, gc.Equals, 200*time.Millisecond)
	c.Check(cfg.CycleDamping, gc.Equals, 2*time.Second)

	cfg.Source = s.source
	cfg.Dispatcher = s.registry
	c.Check(cfg.Validate(), jc.ErrorIsNil)
}

func (s *workerSuite) TestStateTransitions(c *gc.C) {
	s.source.connected = false
	states := make(chan tailwatcher.State)
	w, err := tailwatcher.NewWorkerForTest(s.config(), states)
	c.Assert(err, jc.ErrorIsNil)
	defer func() {
		w.Kill()
		c.Check(w.Wait(), jc.ErrorIsNil)
	}()

	expectState := func(expected tailwatcher.State) {
		select {
		case state := <-states:
			c.Assert(state, gc.Equals, expected)
		case <-time.After(longWait):
			c.Fatalf("timed out waiting for state %q", expected)
		}
	}

	expectState(tailwatcher.StateWaitingForConnection)
	s.source.connect()
	expectState(tailwatcher.StateProvisioning)
	expectState(tailwatcher.StateTailing)

	s.db.killCursors()
	expectState(tailwatcher.StateCursorDead)
	expectState(tailwatcher.StateProvisioning)
	expectState(tailwatcher.StateTailing)
	c.Check(w.State(), gc.Equals, tailwatcher.StateTailing)
}

func (s *workerSuite) TestDeliversInOrderToEveryListener(c *gc.C) {
	first := s.register(c, &recorder{})
	second := s.register(c, &recorder{})
	w := s.startWorker(c)

	s.db.append("runtime", 1, 2, 3)
	waitFor(c, "tailing", func() bool { return w.State() == tailwatcher.StateTailing })
	s.db.append("runtime", 4, 5)
	s.db.append("runtime", 6)

	expected := []int{1, 2, 3, 4, 5, 6}
	c.Check(waitForValues(c, first, 6), jc.DeepEquals, expected)
	c.Check(waitForValues(c, second, 6), jc.DeepEquals, expected)
	waitFor(c, "report", func() bool { return w.Report()["documents-delivered"] == 6 })

	report := w.Report()
	c.Check(report["collection"], gc.Equals, "hr.runtime")
	c.Check(report["cursor-cycles"], gc.Equals, 1)
	c.Check(testutil.ToFloat64(s.metrics.Dispatched), gc.Equals, float64(6))
	c.Check(testutil.ToFloat64(s.metrics.State.WithLabelValues("tailing")), gc.Equals, float64(1))
}

func (s *workerSuite) TestWaitsForConnection(c *gc.C) {
	s.source.connected = false
	r := s.register(c, &recorder{})
	s.db.append("runtime", 1)
	w := s.startWorker(c)

	waitFor(c, "polls", func() bool {
		s.source.mu.Lock()
		defer s.source.mu.Unlock()
		return s.source.polls >= 3
	})
	c.Check(w.State(), gc.Equals, tailwatcher.StateWaitingForConnection)
	c.Check(r.seen(), gc.HasLen, 0)
	s.db.CheckNoCalls(c)

	s.source.connect()
	c.Check(waitForValues(c, r, 1), jc.DeepEquals, []int{1})
}

func (s *workerSuite) TestProvisionsMissingCollectionOnce(c *gc.C) {
	r := s.register(c, &recorder{})
	w := s.startWorker(c)
	waitFor(c, "tailing", func() bool { return w.State() == tailwatcher.StateTailing })

	s.db.killCursors()
	waitFor(c, "second cursor", func() bool {
		opened, _ := s.db.openCursors()
		return opened == 2
	})
	waitFor(c, "tailing", func() bool { return w.State() == tailwatcher.StateTailing })
	c.Check(r.seen(), gc.HasLen, 0)

	var creates int
	for _, call := range s.db.Calls() {
		if call.FuncName == "CreateCappedCollection" {
			creates++
			c.Check(call.Args, jc.DeepEquals, []interface{}{"hr", "runtime", 10000})
		}
	}
	c.Check(creates, gc.Equals, 1)
}

func (s *workerSuite) TestRecreatedCursorRedelivers(c *gc.C) {
	r := s.register(c, &recorder{})
	w := s.startWorker(c)

	s.db.append("runtime", 1, 2, 3)
	c.Assert(waitForValues(c, r, 3), jc.DeepEquals, []int{1, 2, 3})

	s.db.killCursors()
	waitFor(c, "second cursor", func() bool {
		opened, _ := s.db.openCursors()
		return opened == 2
	})
	s.db.append("runtime", 4)

	// The new cursor starts from the oldest document still held, so the
	// earlier documents are seen again, still in order.
	c.Check(waitForValues(c, r, 7), jc.DeepEquals, []int{1, 2, 3, 1, 2, 3, 4})
	opened, closed := s.db.openCursors()
	c.Check(opened, gc.Equals, 2)
	c.Check(closed, gc.Equals, 1)
	c.Check(w.Report()["cursor-cycles"], gc.Equals, 2)
}

func (s *workerSuite) TestDeadCursorIsDamped(c *gc.C) {
	s.db.deadOnOpen = true
	cfg := s.config()
	cfg.CycleDamping = 50 * time.Millisecond
	w, err := tailwatcher.NewWorker(cfg)
	c.Assert(err, jc.ErrorIsNil)

	time.Sleep(500 * time.Millisecond)
	w.Kill()
	c.Assert(w.Wait(), jc.ErrorIsNil)

	// Each cycle waits out the damping delay, so half a second allows
	// about ten of them. Without damping there would be thousands.
	opened, closed := s.db.openCursors()
	c.Check(opened > 1, jc.IsTrue)
	c.Check(opened <= 20, jc.IsTrue, gc.Commentf("opened %d cursors", opened))
	c.Check(closed, gc.Equals, opened)
}

func (s *workerSuite) TestListenerFailureEndsCycle(c *gc.C) {
	failed := false
	first := s.register(c, &recorder{fail: func(v int) error {
		if v == 2 && !failed {
			failed = true
			return errors.New("listener broke")
		}
		return nil
	}})
	second := s.register(c, &recorder{})
	w := s.startWorker(c)

	s.db.append("runtime", 1, 2, 3)

	// The failure on document 2 stops its delivery to the second listener
	// and ends the cycle; the next cursor starts over.
	c.Check(waitForValues(c, first, 5), jc.DeepEquals, []int{1, 2, 1, 2, 3})
	c.Check(waitForValues(c, second, 4), jc.DeepEquals, []int{1, 1, 2, 3})

	report := w.Report()
	c.Check(report["cycle-failures"], gc.Equals, 1)
	c.Check(report["last-error"], gc.Matches, `listener: listener 0 .*: listener broke`)
	c.Check(testutil.ToFloat64(s.metrics.Failures.WithLabelValues("listener")), gc.Equals, float64(1))
	_, closed := s.db.openCursors()
	c.Check(closed >= 1, jc.IsTrue)
}

func (s *workerSuite) TestListenerPanicEndsCycle(c *gc.C) {
	panicked := false
	r := s.register(c, &recorder{fail: func(v int) error {
		if !panicked {
			panicked = true
			panic("oops")
		}
		return nil
	}})
	w := s.startWorker(c)

	s.db.append("runtime", 1)
	c.Check(waitForValues(c, r, 2), jc.DeepEquals, []int{1, 1})
	c.Check(w.Report()["last-error"], gc.Equals, "listener: listener panic: oops")
}

func (s *workerSuite) TestProvisionFailureRetries(c *gc.C) {
	s.db.append("runtime", 1)
	s.db.SetErrors(errors.New("no reachable servers"))
	r := s.register(c, &recorder{})
	w := s.startWorker(c)

	c.Check(waitForValues(c, r, 1), jc.DeepEquals, []int{1})

	c.Check(w.Report()["last-error"], gc.Equals,
		`provisioning: listing collections in "hr": no reachable servers`)
	c.Check(testutil.ToFloat64(s.metrics.Failures.WithLabelValues("provisioning")), gc.Equals, float64(1))
	s.db.CheckCallNames(c, "CollectionNames", "CollectionNames", "Tail")
}

func (s *workerSuite) TestCursorOpenFailureRetries(c *gc.C) {
	s.db.append("runtime", 1)
	// CollectionNames succeeds, Tail fails, then everything succeeds.
	s.db.SetErrors(nil, errors.New("cursor not found"))
	r := s.register(c, &recorder{})
	w := s.startWorker(c)

	c.Check(waitForValues(c, r, 1), jc.DeepEquals, []int{1})
	c.Check(w.Report()["last-error"], gc.Equals, "cursor: cursor not found")
}

func (s *workerSuite) TestCursorReadFailureRetries(c *gc.C) {
	r := s.register(c, &recorder{})
	w := s.startWorker(c)

	s.db.append("runtime", 1)
	c.Assert(waitForValues(c, r, 1), jc.DeepEquals, []int{1})

	s.db.mu.Lock()
	s.db.cursors[0].failNext = errors.New("connection reset by peer")
	s.db.mu.Unlock()

	c.Check(waitForValues(c, r, 2), jc.DeepEquals, []int{1, 1})
	c.Check(w.Report()["last-error"], gc.Equals, "cursor: connection reset by peer")
	opened, closed := s.db.openCursors()
	c.Check(opened, gc.Equals, 2)
	c.Check(closed, gc.Equals, 1)
}

func (s *workerSuite) TestKillWhileWaitingForConnection(c *gc.C) {
	s.source.connected = false
	w, err := tailwatcher.NewWorker(s.config())
	c.Assert(err, jc.ErrorIsNil)
	waitFor(c, "waiting", func() bool { return w.State() == tailwatcher.StateWaitingForConnection })

	w.Kill()
	c.Assert(w.Wait(), jc.ErrorIsNil)
}

func (s *workerSuite) TestKillClosesCursor(c *gc.C) {
	w, err := tailwatcher.NewWorker(s.config())
	c.Assert(err, jc.ErrorIsNil)
	waitFor(c, "tailing", func() bool { return w.State() == tailwatcher.StateTailing })

	w.Kill()
	c.Assert(w.Wait(), jc.ErrorIsNil)
	opened, closed := s.db.openCursors()
	c.Check(opened, gc.Equals, 1)
	c.Check(closed, gc.Equals, 1)
}
