// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package driverstore

import (
	"context"
	"time"

	"github.com/juju/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/juju/runtimefeed/core/feed"
)

type cursor struct {
	cur       *mongo.Cursor
	opTimeout time.Duration
	decode    func(bson.Raw) (feed.Document, error)
	err       error
}

// Alive is part of the store.Cursor interface. A server cursor id of zero
// means the server closed the cursor; documents already fetched in the
// current batch can still be read.
func (c *cursor) Alive() bool {
	if c.err != nil {
		return false
	}
	return c.cur.ID() != 0 || c.cur.RemainingBatchLength() > 0
}

// Next is part of the store.Cursor interface. It returns every document
// of the current batch, waiting for the next batch only when the current
// one is used up.
func (c *cursor) Next(ctx context.Context) ([]feed.Document, error) {
	if c.err != nil {
		return nil, errors.Annotate(c.err, "cursor is dead")
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	var docs []feed.Document
	for len(docs) == 0 || c.cur.RemainingBatchLength() > 0 {
		if !c.cur.TryNext(ctx) {
			if err := c.cur.Err(); err != nil {
				c.err = err
				return nil, errors.Annotate(err, "tailing cursor")
			}
			break
		}
		doc, err := c.decode(c.cur.Current)
		if err != nil {
			c.err = err
			return nil, errors.Trace(err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Close is part of the store.Cursor interface.
func (c *cursor) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return errors.Trace(c.cur.Close(ctx))
}
