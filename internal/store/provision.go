// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// EnsureCollection returns the named collection, creating it as a capped
// collection of the given size when the database does not have it yet.
// Existence is decided by listing the collection names, so calling it
// again for an existing collection never attempts a create. An existing
// collection is returned as is, whatever its size.
func EnsureCollection(ctx context.Context, session Session, db, name string, size int) (Collection, error) {
	if size <= 0 {
		return nil, errors.NotValidf("capped collection size %d", size)
	}
	names, err := session.CollectionNames(ctx, db)
	if err != nil {
		return nil, errors.Annotatef(err, "listing collections in %q", db)
	}
	if !set.NewStrings(names...).Contains(name) {
		logger.Infof("creating capped collection %s.%s (%d bytes)", db, name, size)
		if err := session.CreateCappedCollection(ctx, db, name, size); err != nil {
			return nil, errors.Annotatef(err, "creating capped collection %s.%s", db, name)
		}
	}
	return session.Collection(db, name), nil
}
