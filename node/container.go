// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package node

import (
	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/schema"
)

// Container is the is-container capability: an ordered child map.
type Container interface {
	Node

	Child(name string) (Node, error)
	HasChild(name string) (bool, error)
	Keys() ([]string, error)
	Len() (int, error)
	AddChild(name, typeName string) (Node, error)
	RemoveChild(name string) error
	Reorder(names []string) error

	// State mutators used by the owning session.
	PutChild(name string, n Node)
	DropChild(name string)
	SetOrder(names []string)
}

// containerState is the ordered child map of a loaded container.
// order is nil for unordered containers.
type containerState struct {
	children map[string]Node
	order    []string
	ordered  bool
}

func (c *containerState) reset() {
	c.children = nil
	c.order = nil
}

func (c *containerState) ensure() {
	if c.children == nil {
		c.children = make(map[string]Node)
	}
}

// containerBase combines the shared header with a child map and
// implements Container for embedding.
type containerBase struct {
	header
	containerState
}

func (c *containerBase) Child(name string) (Node, error) {
	if err := c.activate(); err != nil {
		return nil, err
	}
	child, ok := c.children[name]
	if !ok {
		return nil, capsuled.ErrNotFound.New("child %q of %q", name, c.name)
	}
	return child, nil
}

func (c *containerBase) HasChild(name string) (bool, error) {
	if err := c.activate(); err != nil {
		return false, err
	}
	_, ok := c.children[name]
	return ok, nil
}

func (c *containerBase) Keys() ([]string, error) {
	if err := c.activate(); err != nil {
		return nil, err
	}
	if c.order != nil {
		out := make([]string, len(c.order))
		copy(out, c.order)
		return out, nil
	}
	out := make([]string, 0, len(c.children))
	for name := range c.children {
		out = append(out, name)
	}
	return out, nil
}

func (c *containerBase) Len() (int, error) {
	if err := c.activate(); err != nil {
		return 0, err
	}
	return len(c.children), nil
}

// AddChild creates a child through the session and inserts it.
// Duplicate names are rejected; same-name siblings are not admitted by
// this client.
func (c *containerBase) AddChild(name, typeName string) (Node, error) {
	if c.jar == nil {
		return nil, capsuled.ErrSchema.New("container %q has no session", c.name)
	}
	if err := c.activate(); err != nil {
		return nil, err
	}
	if _, ok := c.children[name]; ok {
		return nil, capsuled.ErrSchema.New("child %q already exists", name)
	}
	child, err := c.jar.CreateChild(c.self, name, typeName)
	if err != nil {
		return nil, err
	}
	c.PutChild(name, child)
	return child, nil
}

func (c *containerBase) RemoveChild(name string) error {
	if err := c.activate(); err != nil {
		return err
	}
	child, ok := c.children[name]
	if !ok {
		return capsuled.ErrNotFound.New("child %q of %q", name, c.name)
	}
	if c.jar == nil {
		return capsuled.ErrSchema.New("container %q has no session", c.name)
	}
	if err := c.jar.DeleteNode(child); err != nil {
		return err
	}
	c.DropChild(name)
	return nil
}

// Reorder rearranges children to the given name sequence. The
// container must be ordered and names must be a permutation of the
// current keys.
func (c *containerBase) Reorder(names []string) error {
	if err := c.activate(); err != nil {
		return err
	}
	if !c.ordered || c.order == nil {
		return capsuled.ErrSchema.New("unordered container %q", c.name)
	}
	if c.jar == nil {
		return capsuled.ErrSchema.New("container %q has no session", c.name)
	}
	old := make([]string, len(c.order))
	copy(old, c.order)
	if err := c.jar.ReorderChildren(c.self, old, names); err != nil {
		return err
	}
	c.order = append(c.order[:0], names...)
	return nil
}

func (c *containerBase) PutChild(name string, n Node) {
	c.ensure()
	if _, ok := c.children[name]; !ok && c.ordered {
		c.order = append(c.order, name)
	}
	c.children[name] = n
}

func (c *containerBase) DropChild(name string) {
	if _, ok := c.children[name]; !ok {
		return
	}
	delete(c.children, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *containerBase) SetOrder(names []string) {
	c.ordered = true
	c.order = append([]string(nil), names...)
}

// ChildrenTypeName is the node type of the children holder under a
// document.
const ChildrenTypeName = "ecmnt:children"

// ChildrenSlot is the child name a document keeps its children holder
// under.
const ChildrenSlot = "ecm:children"

// Children is the children holder node of a document.
type Children struct {
	containerBase
}

func NewChildren(name string, s *schema.Schema) *Children {
	c := &Children{}
	c.init(c, name, ChildrenTypeName, s)
	c.ordered = true
	c.order = []string{}
	return c
}

func NewChildrenGhost(id data.Id, s *schema.Schema) *Children {
	c := &Children{}
	c.init(c, "", ChildrenTypeName, s)
	c.id = id
	c.ghost = true
	c.ordered = true
	return c
}

func (c *Children) Ghostify() {
	c.ghost = true
	c.containerState.reset()
	c.ordered = true
}

// NoChildrenYet stands in for the children holder of a document that
// has never had children. The first AddChild on the document
// materializes a real holder.
type NoChildrenYet struct {
	parent Node
}

func NewNoChildrenYet(parent Node) *NoChildrenYet {
	return &NoChildrenYet{parent: parent}
}

func (n *NoChildrenYet) Parent() Node { return n.parent }

func (n *NoChildrenYet) Name() string { return ChildrenSlot }

func (n *NoChildrenYet) Keys() []string { return nil }

func (n *NoChildrenYet) HasChild(string) bool { return false }

func (n *NoChildrenYet) Len() int { return 0 }

func (n *NoChildrenYet) Child(name string) (Node, error) {
	return nil, capsuled.ErrNotFound.New("child %q", name)
}

func (n *NoChildrenYet) RemoveChild(name string) error {
	return capsuled.ErrNotFound.New("child %q", name)
}

func (n *NoChildrenYet) Reorder(names []string) error {
	if len(names) > 0 {
		return capsuled.ErrSchema.New("names mismatch")
	}
	return nil
}
