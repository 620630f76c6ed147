// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tailwatcher_test

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/mgo/v3/bson"
	"github.com/juju/testing"

	"github.com/juju/runtimefeed/core/feed"
	"github.com/juju/runtimefeed/internal/store"
)

// fakeSource hands out its session once connected is set.
type fakeSource struct {
	mu        sync.Mutex
	session   store.Session
	connected bool
	polls     int
}

func (s *fakeSource) Current() (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if !s.connected {
		return nil, errors.New("not connected")
	}
	return s.session, nil
}

func (s *fakeSource) connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
}

// fakeDB is an in-memory stand-in for a database holding capped
// collections. A new cursor starts at the oldest document, as a tailing
// cursor on a capped collection does.
type fakeDB struct {
	testing.Stub

	mu          sync.Mutex
	collections map[string][]feed.Document
	cursors     []*fakeCursor
	// deadOnOpen makes new cursors report themselves dead straight away.
	deadOnOpen bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{collections: make(map[string][]feed.Document)}
}

func (db *fakeDB) append(name string, values ...int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, v := range values {
		db.collections[name] = append(db.collections[name], bson.D{{Name: "n", Value: v}})
	}
}

// killCursors marks every open cursor dead, as the server does when the
// collection is dropped.
func (db *fakeDB) killCursors() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, cur := range db.cursors {
		cur.dead = true
	}
}

func (db *fakeDB) openCursors() (opened, closed int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, cur := range db.cursors {
		opened++
		if cur.closed {
			closed++
		}
	}
	return opened, closed
}

func (db *fakeDB) Ping(context.Context) error {
	db.AddCall("Ping")
	return db.NextErr()
}

func (db *fakeDB) CollectionNames(_ context.Context, name string) ([]string, error) {
	db.AddCall("CollectionNames", name)
	if err := db.NextErr(); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	var names []string
	for name := range db.collections {
		names = append(names, name)
	}
	return names, nil
}

func (db *fakeDB) CreateCappedCollection(_ context.Context, dbName, name string, size int) error {
	db.AddCall("CreateCappedCollection", dbName, name, size)
	if err := db.NextErr(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.collections[name]; ok {
		return errors.AlreadyExistsf("collection %q", name)
	}
	db.collections[name] = nil
	return nil
}

func (db *fakeDB) Collection(_, name string) store.Collection {
	return &fakeCollection{db: db, name: name}
}

func (db *fakeDB) Close() {}

type fakeCollection struct {
	db   *fakeDB
	name string
}

func (c *fakeCollection) Name() string { return c.name }

func (c *fakeCollection) Tail(context.Context, time.Duration) (store.Cursor, error) {
	c.db.AddCall("Tail", c.name)
	if err := c.db.NextErr(); err != nil {
		return nil, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cur := &fakeCursor{db: c.db, name: c.name, dead: c.db.deadOnOpen}
	c.db.cursors = append(c.db.cursors, cur)
	return cur, nil
}

func (c *fakeCollection) Insert(_ context.Context, doc feed.Document) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.collections[c.name] = append(c.db.collections[c.name], doc)
	return nil
}

type fakeCursor struct {
	db     *fakeDB
	name   string
	pos    int
	dead   bool
	closed bool
	// failNext makes the next read fail.
	failNext error
}

func (c *fakeCursor) Alive() bool {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return !c.dead
}

func (c *fakeCursor) Next(context.Context) ([]feed.Document, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.failNext; err != nil {
		c.failNext = nil
		c.dead = true
		return nil, err
	}
	docs := c.db.collections[c.name][c.pos:]
	c.pos += len(docs)
	return append([]feed.Document(nil), docs...), nil
}

func (c *fakeCursor) Close() error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.closed = true
	c.dead = true
	return nil
}

// recorder is a listener remembering the values it was handed.
type recorder struct {
	mu     sync.Mutex
	values []int
	// fail is called for every document; a non-nil result is returned
	// from HandleDocument.
	fail func(v int) error
}

func (r *recorder) HandleDocument(doc feed.Document) error {
	v := doc.Map()["n"].(int)
	r.mu.Lock()
	r.values = append(r.values, v)
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		return fail(v)
	}
	return nil
}

func (r *recorder) seen() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.values...)
}
