// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"github.com/juju/errors"
	mgobson "github.com/juju/mgo/v3/bson"
	"go.mongodb.org/mongo-driver/v2/bson"
	"gopkg.in/yaml.v3"

	"github.com/juju/runtimefeed/core/feed"
	"github.com/juju/runtimefeed/internal/store/driverstore"
)

// storedDocument renders a document with its fields in stored order.
// JSON output is relaxed MongoDB extended JSON.
type storedDocument feed.Document

// MarshalJSON implements json.Marshaler.
func (d storedDocument) MarshalJSON() ([]byte, error) {
	raw, err := driverstore.Encode(feed.Document(d))
	if err != nil {
		return nil, errors.Trace(err)
	}
	data, err := bson.MarshalExtJSON(raw, false, false)
	return data, errors.Annotate(err, "encoding extended JSON")
}

// MarshalYAML implements yaml.Marshaler.
func (d storedDocument) MarshalYAML() (interface{}, error) {
	return yamlNode(feed.Document(d))
}

func yamlNode(value interface{}) (*yaml.Node, error) {
	switch v := value.(type) {
	case mgobson.D:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, elem := range v {
			child, err := yamlNode(elem.Value)
			if err != nil {
				return nil, errors.Annotatef(err, "field %q", elem.Name)
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: elem.Name},
				child,
			)
		}
		return node, nil
	case []interface{}:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v {
			child, err := yamlNode(item)
			if err != nil {
				return nil, errors.Trace(err)
			}
			node.Content = append(node.Content, child)
		}
		return node, nil
	case mgobson.ObjectId:
		return yamlNode(v.Hex())
	}
	node := &yaml.Node{}
	if err := node.Encode(value); err != nil {
		return nil, errors.Trace(err)
	}
	return node, nil
}
