// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package feedhub republishes documents from the shared runtime
// collection on an in-process pubsub hub, so that code which cannot
// register a listener directly can still follow the feed.
package feedhub

import (
	"github.com/juju/pubsub/v2"

	"github.com/juju/runtimefeed/core/feed"
)

// DocumentTopic is the hub topic every document is published on. The
// published data is a feed.Document.
const DocumentTopic = "runtime.document"

// Publisher is a feed.Listener that publishes the documents it is handed
// on a hub.
type Publisher struct {
	hub *pubsub.SimpleHub
}

// NewPublisher returns a Publisher for the hub.
func NewPublisher(hub *pubsub.SimpleHub) *Publisher {
	return &Publisher{hub: hub}
}

// HandleDocument is part of the feed.Listener interface. Hub delivery is
// asynchronous, so this never fails.
func (p *Publisher) HandleDocument(doc feed.Document) error {
	// Subscribers run on their own goroutines; give them their own slice.
	published := append(feed.Document(nil), doc...)
	_ = p.hub.Publish(DocumentTopic, published)
	return nil
}

// Subscribe calls handler with every document published on the hub, in
// publication order. The returned func unsubscribes.
func Subscribe(hub *pubsub.SimpleHub, handler func(feed.Document)) func() {
	return hub.Subscribe(DocumentTopic, func(_ string, data interface{}) {
		doc, ok := data.(feed.Document)
		if !ok {
			logger.Warningf("unexpected %T published on %q", data, DocumentTopic)
			return
		}
		handler(doc)
	})
}
