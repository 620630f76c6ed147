// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package feed holds the types shared by everything that reads from or
// writes to the shared runtime collection: the document type, the listener
// capability and the registry that fans documents out to listeners.
package feed

import (
	"github.com/juju/mgo/v3/bson"
)

const (
	// CollectionName is the name of the capped collection used as the
	// shared runtime channel.
	CollectionName = "runtime"

	// CollectionSize is the size in bytes the capped collection is created
	// with. An existing collection is never resized.
	CollectionSize = 10000

	// DefaultDatabase is the database holding the shared collection when
	// none is configured.
	DefaultDatabase = "hr"
)

// Document is a single entry read from the shared collection. Field order
// is preserved as stored.
type Document = bson.D

// Listener is notified of every document appended to the shared
// collection.
type Listener interface {
	// HandleDocument is called once per observed document. Calls are
	// never made concurrently. A returned error ends the current tailing
	// cycle; the cursor is recreated and documents may be seen again.
	HandleDocument(doc Document) error
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(doc Document) error

// HandleDocument is part of the Listener interface.
func (f ListenerFunc) HandleDocument(doc Document) error {
	return f(doc)
}
