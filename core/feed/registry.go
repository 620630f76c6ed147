// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package feed

import (
	"reflect"
	"sync"

	"github.com/juju/errors"
)

// Registry is an ordered set of listeners. It is safe to register
// listeners while documents are being dispatched; a dispatch in progress
// only sees the listeners registered before it started.
type Registry struct {
	mu        sync.Mutex
	listeners []Listener
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends the listener to the registry. A nil listener, or an
// interface holding a nil pointer, is rejected here rather than failing
// when the first document arrives.
func (r *Registry) Register(l Listener) error {
	if isNil(l) {
		return errors.NotValidf("nil listener")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
	return nil
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Dispatch hands the document to every registered listener in
// registration order, on the calling goroutine. The first listener error
// stops the dispatch and is returned; listeners after the failing one do
// not see the document.
func (r *Registry) Dispatch(doc Document) error {
	for i, l := range r.snapshot() {
		if err := l.HandleDocument(doc); err != nil {
			return errors.Annotatef(err, "listener %d (%T)", i, l)
		}
	}
	return nil
}

func (r *Registry) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	// The slice is only ever appended to, so capping the length is enough
	// to keep later registrations out of this dispatch.
	return r.listeners[:len(r.listeners):len(r.listeners)]
}

func isNil(l Listener) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
