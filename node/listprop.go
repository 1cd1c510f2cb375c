// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package node

import (
	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/schema"
)

// ListProperty is an ordered multi-valued complex property,
// represented on the wire as same-name sibling children and in memory
// as a virtual container of value nodes.
type ListProperty struct {
	containerBase
	valueSchema *schema.Schema
}

// NewListProperty builds an empty list. s is the container schema of
// the list type, valueSchema the schema of its items.
func NewListProperty(name string, s, valueSchema *schema.Schema) *ListProperty {
	lp := &ListProperty{valueSchema: valueSchema}
	lp.init(lp, name, s.Name(), s)
	lp.ordered = true
	lp.order = []string{}
	return lp
}

func NewListPropertyGhost(id data.Id, s, valueSchema *schema.Schema) *ListProperty {
	lp := &ListProperty{valueSchema: valueSchema}
	lp.init(lp, "", s.Name(), s)
	lp.id = id
	lp.ghost = true
	lp.ordered = true
	return lp
}

func (lp *ListProperty) Ghostify() {
	lp.ghost = true
	lp.containerState.reset()
	lp.ordered = true
}

// ValueSchema returns the schema list items are built from.
func (lp *ListProperty) ValueSchema() *schema.Schema { return lp.valueSchema }

// AddValue creates one item through the session and appends it.
func (lp *ListProperty) AddValue() (*ObjectProperty, error) {
	if lp.jar == nil {
		return nil, capsuled.ErrSchema.New("list property %q has no session", lp.name)
	}
	if err := lp.activate(); err != nil {
		return nil, err
	}
	item, err := lp.jar.NewValue(lp, "")
	if err != nil {
		return nil, err
	}
	lp.PutChild(item.Name(), item)
	return item, nil
}

// Values returns the item nodes in list order.
func (lp *ListProperty) Values() ([]*ObjectProperty, error) {
	keys, err := lp.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]*ObjectProperty, 0, len(keys))
	for _, key := range keys {
		child, err := lp.Child(key)
		if err != nil {
			return nil, err
		}
		item, ok := child.(*ObjectProperty)
		if !ok {
			return nil, capsuled.ErrSchema.New("list item %q has wrong class", key)
		}
		out = append(out, item)
	}
	return out, nil
}
