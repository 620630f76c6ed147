// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package driverstore implements the store capabilities on top of the
// official MongoDB Go driver. Documents cross the boundary as raw BSON so
// the rest of the feed keeps working with mgo's bson types.
package driverstore

import (
	"context"
	"time"

	"github.com/juju/errors"
	mgobson "github.com/juju/mgo/v3/bson"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/juju/runtimefeed/core/feed"
	"github.com/juju/runtimefeed/internal/store"
)

// disconnectTimeout bounds how long closing a session may take.
const disconnectTimeout = 5 * time.Second

// Dialer opens sessions with the official driver.
type Dialer struct{}

// Dial is part of the store.Dialer interface. The driver connects lazily,
// so a nil error does not mean the server is reachable.
func (Dialer) Dial(ctx context.Context, args store.ConnectArgs) (store.Session, error) {
	if err := args.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	client, err := mongo.Connect(ClientOptions(args))
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %s", args.Address())
	}
	return &session{client: client, opTimeout: args.SocketTimeout}, nil
}

// ClientOptions returns the driver options for the given arguments. The
// socket timeout is applied to connection establishment and, through a
// context deadline, to every non-tailing operation.
func ClientOptions(args store.ConnectArgs) *options.ClientOptions {
	return options.Client().
		ApplyURI(args.URI()).
		SetConnectTimeout(args.SocketTimeout).
		SetServerSelectionTimeout(args.ServerSelectionTimeout)
}

type session struct {
	client    *mongo.Client
	opTimeout time.Duration
}

func (s *session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Ping is part of the store.Session interface.
func (s *session) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return errors.Trace(s.client.Ping(ctx, readpref.Primary()))
}

// CollectionNames is part of the store.Session interface.
func (s *session) CollectionNames(ctx context.Context, db string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	names, err := s.client.Database(db).ListCollectionNames(ctx, bson.D{})
	return names, errors.Trace(err)
}

// CreateCappedCollection is part of the store.Session interface.
func (s *session) CreateCappedCollection(ctx context.Context, db, name string, size int) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	opts := options.CreateCollection().SetCapped(true).SetSizeInBytes(int64(size))
	return errors.Trace(s.client.Database(db).CreateCollection(ctx, name, opts))
}

// Collection is part of the store.Session interface.
func (s *session) Collection(db, name string) store.Collection {
	return &collection{
		coll:      s.client.Database(db).Collection(name),
		opTimeout: s.opTimeout,
	}
}

// Close is part of the store.Session interface.
func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		logger.Debugf("disconnecting: %v", err)
	}
}

type collection struct {
	coll      *mongo.Collection
	opTimeout time.Duration
}

// Name is part of the store.Collection interface.
func (c *collection) Name() string {
	return c.coll.Name()
}

// Tail is part of the store.Collection interface.
func (c *collection) Tail(ctx context.Context, await time.Duration) (store.Cursor, error) {
	opts := options.Find().
		SetCursorType(options.TailableAwait).
		SetNoCursorTimeout(true).
		SetMaxAwaitTime(await)
	findCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	cur, err := c.coll.Find(findCtx, bson.D{}, opts)
	if err != nil {
		return nil, errors.Annotatef(err, "opening tailing cursor on %q", c.coll.Name())
	}
	return &cursor{cur: cur, opTimeout: c.opTimeout + await, decode: Decode}, nil
}

// Insert is part of the store.Collection interface.
func (c *collection) Insert(ctx context.Context, doc feed.Document) error {
	raw, err := Encode(doc)
	if err != nil {
		return errors.Trace(err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	_, err = c.coll.InsertOne(ctx, raw)
	return errors.Trace(err)
}

// Encode converts a document into raw BSON the driver accepts as is.
func Encode(doc feed.Document) (bson.Raw, error) {
	data, err := mgobson.Marshal(doc)
	if err != nil {
		return nil, errors.Annotate(err, "encoding document")
	}
	return bson.Raw(data), nil
}

// Decode converts raw BSON returned by the driver into a document.
func Decode(raw bson.Raw) (feed.Document, error) {
	var doc feed.Document
	if err := mgobson.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Annotate(err, "decoding document")
	}
	return doc, nil
}
