// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package mgostore implements the store capabilities on top of mgo.
package mgostore

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/juju/mgo/v3"

	"github.com/juju/runtimefeed/core/feed"
	"github.com/juju/runtimefeed/internal/store"
)

// dialWithInfo is patched out in tests.
var dialWithInfo = mgo.DialWithInfo

// Dialer opens mgo sessions.
type Dialer struct{}

// Dial is part of the store.Dialer interface.
func (Dialer) Dial(ctx context.Context, args store.ConnectArgs) (store.Session, error) {
	if err := args.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	s, err := dialWithInfo(DialInfo(args))
	if err != nil {
		return nil, errors.Annotatef(err, "dialing %s", args.Address())
	}
	s.SetSocketTimeout(args.SocketTimeout)
	s.SetSyncTimeout(args.ServerSelectionTimeout)
	return &session{session: s}, nil
}

// DialInfo returns the mgo dial parameters for the given arguments.
func DialInfo(args store.ConnectArgs) *mgo.DialInfo {
	return &mgo.DialInfo{
		Addrs:    []string{args.Address()},
		Timeout:  args.ServerSelectionTimeout,
		FailFast: true,
	}
}

// session wraps an mgo session. Every operation runs on a copy of the
// root session so that a socket broken by a server restart is not reused
// by the next operation.
type session struct {
	session *mgo.Session
}

// Ping is part of the store.Session interface.
func (s *session) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	copied := s.session.Copy()
	defer copied.Close()
	return errors.Trace(copied.Ping())
}

// CollectionNames is part of the store.Session interface.
func (s *session) CollectionNames(ctx context.Context, db string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	copied := s.session.Copy()
	defer copied.Close()
	names, err := copied.DB(db).CollectionNames()
	return names, errors.Trace(err)
}

// CreateCappedCollection is part of the store.Session interface.
func (s *session) CreateCappedCollection(ctx context.Context, db, name string, size int) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	copied := s.session.Copy()
	defer copied.Close()
	return errors.Trace(copied.DB(db).C(name).Create(&mgo.CollectionInfo{
		Capped:   true,
		MaxBytes: size,
	}))
}

// Collection is part of the store.Session interface.
func (s *session) Collection(db, name string) store.Collection {
	return &collection{root: s.session, db: db, name: name}
}

// Close is part of the store.Session interface.
func (s *session) Close() {
	s.session.Close()
}

type collection struct {
	root *mgo.Session
	db   string
	name string
}

// Name is part of the store.Collection interface.
func (c *collection) Name() string {
	return c.name
}

// Tail is part of the store.Collection interface. The cursor owns its own
// copy of the session, released when the cursor is closed.
func (c *collection) Tail(ctx context.Context, await time.Duration) (store.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	copied := c.root.Copy()
	iter := tailQuery(mgoQuery{copied.DB(c.db).C(c.name).Find(nil)}, await)
	return &cursor{session: copied, iter: iter}, nil
}

// Query is the part of *mgo.Query used to open a tailing cursor.
type Query interface {
	Sort(fields ...string) Query
	SetCursorTimeout(d time.Duration) Query
	Tail(timeout time.Duration) Iterator
}

type mgoQuery struct {
	q *mgo.Query
}

func (m mgoQuery) Sort(fields ...string) Query {
	return mgoQuery{q: m.q.Sort(fields...)}
}

func (m mgoQuery) SetCursorTimeout(d time.Duration) Query {
	return mgoQuery{q: m.q.SetCursorTimeout(d)}
}

func (m mgoQuery) Tail(timeout time.Duration) Iterator {
	return m.q.Tail(timeout)
}

// tailQuery reads in insertion order and disables the server's idle
// cursor timeout, so a quiet collection does not lose its cursor.
func tailQuery(q Query, await time.Duration) Iterator {
	return q.Sort("$natural").SetCursorTimeout(0).Tail(await)
}

// Insert is part of the store.Collection interface.
func (c *collection) Insert(ctx context.Context, doc feed.Document) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	copied := c.root.Copy()
	defer copied.Close()
	return errors.Trace(copied.DB(c.db).C(c.name).Insert(doc))
}
