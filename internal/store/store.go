// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package store describes the capabilities the feed needs from a MongoDB
// driver. Concrete implementations live in the mgostore and driverstore
// sub-packages.
package store

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/juju/errors"

	"github.com/juju/runtimefeed/core/feed"
)

const (
	// DefaultHost is the database host used when none is configured.
	DefaultHost = "localhost"

	// DefaultPort is the database port used when none is configured.
	DefaultPort = 27017

	// DefaultSocketTimeout bounds individual socket operations.
	DefaultSocketTimeout = 2 * time.Second

	// DefaultServerSelectionTimeout bounds how long an operation waits for
	// a suitable server.
	DefaultServerSelectionTimeout = time.Second
)

// ConnectArgs holds the parameters for establishing a session.
type ConnectArgs struct {
	Host                   string
	Port                   int
	SocketTimeout          time.Duration
	ServerSelectionTimeout time.Duration
}

// DefaultConnectArgs returns the connection parameters used when nothing
// is configured.
func DefaultConnectArgs() ConnectArgs {
	return ConnectArgs{
		Host:                   DefaultHost,
		Port:                   DefaultPort,
		SocketTimeout:          DefaultSocketTimeout,
		ServerSelectionTimeout: DefaultServerSelectionTimeout,
	}
}

// Validate ensures the arguments can be used to dial.
func (a ConnectArgs) Validate() error {
	if a.Host == "" {
		return errors.NotValidf("empty Host")
	}
	if a.Port <= 0 || a.Port > 65535 {
		return errors.NotValidf("Port %d", a.Port)
	}
	if a.SocketTimeout <= 0 {
		return errors.NotValidf("SocketTimeout %v", a.SocketTimeout)
	}
	if a.ServerSelectionTimeout <= 0 {
		return errors.NotValidf("ServerSelectionTimeout %v", a.ServerSelectionTimeout)
	}
	return nil
}

// Address returns the host:port the arguments point at.
func (a ConnectArgs) Address() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// URI returns the connection string for the arguments.
func (a ConnectArgs) URI() string {
	return fmt.Sprintf("mongodb://%s/", a.Address())
}

// Dialer opens sessions against a database server.
type Dialer interface {
	// Dial opens a new session. The returned session has not necessarily
	// talked to the server yet; callers check it with Ping.
	Dial(ctx context.Context, args ConnectArgs) (Session, error)
}

// Session is a connection to a database server.
type Session interface {
	// Ping checks that the primary is reachable.
	Ping(ctx context.Context) error

	// CollectionNames lists the collections in the named database.
	CollectionNames(ctx context.Context, db string) ([]string, error)

	// CreateCappedCollection creates a capped collection of the given size
	// in bytes.
	CreateCappedCollection(ctx context.Context, db, name string, size int) error

	// Collection returns a handle to the named collection. The handle is
	// only valid for as long as the session is.
	Collection(db, name string) Collection

	// Close releases the resources held by the session.
	Close()
}

// Collection is a handle to a single collection.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Tail opens a tailable cursor over the collection, starting from the
	// oldest document still held. The cursor waits up to await for new
	// documents on each Next call and is not timed out by the server.
	Tail(ctx context.Context, await time.Duration) (Cursor, error)

	// Insert appends a document to the collection.
	Insert(ctx context.Context, doc feed.Document) error
}

// Cursor iterates over documents appended to a capped collection.
type Cursor interface {
	// Alive reports whether more documents may still be returned. A
	// tailable cursor stays alive while it is waiting for new data.
	Alive() bool

	// Next returns the documents that became available, in insertion
	// order. An empty result with a nil error means nothing arrived
	// before the await period ended.
	Next(ctx context.Context) ([]feed.Document, error)

	// Close releases the cursor.
	Close() error
}
