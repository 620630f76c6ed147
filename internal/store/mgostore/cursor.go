// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mgostore

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/runtimefeed/core/feed"
)

// Iterator is the part of *mgo.Iter used by the cursor.
type Iterator interface {
	Next(result interface{}) bool
	Timeout() bool
	Err() error
	Close() error
}

// sessionCloser is the part of *mgo.Session owned by a cursor.
type sessionCloser interface {
	Close()
}

// cursor adapts a tailing mgo iterator. mgo hands documents over one at a
// time and Next blocks for the await period when none is pending, so each
// call yields at most one document.
type cursor struct {
	session sessionCloser
	iter    Iterator
	dead    bool
}

// Alive is part of the store.Cursor interface.
func (c *cursor) Alive() bool {
	return !c.dead
}

// Next is part of the store.Cursor interface.
func (c *cursor) Next(ctx context.Context) ([]feed.Document, error) {
	if c.dead {
		return nil, errors.New("cursor is dead")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	var doc feed.Document
	if c.iter.Next(&doc) {
		return []feed.Document{doc}, nil
	}
	if c.iter.Timeout() {
		return nil, nil
	}
	// The server dropped the cursor: the collection was empty when the
	// cursor was opened, the collection was dropped, or the connection
	// failed.
	c.dead = true
	return nil, errors.Annotate(c.iter.Err(), "tailing cursor")
}

// Close is part of the store.Cursor interface.
func (c *cursor) Close() error {
	c.dead = true
	err := c.iter.Close()
	c.session.Close()
	return errors.Trace(err)
}
