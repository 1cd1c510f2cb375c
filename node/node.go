// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package node implements the persistent object model: typed nodes
// whose mutations are routed through the owning session, with ghost
// semantics for state that has not been loaded (or was evicted).
package node

import (
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/schema"
)

// Jar is the owning session as seen from a persistent object. Every
// mutating operation on a node delegates here so the session can track
// dirt, queue commands and keep the identity map coherent.
type Jar interface {
	// SetProperty routes a property write. value is a data.Value for
	// simple fields, a map[string]data.Value or []map[string]data.Value
	// for complex fields, or nil to delete.
	SetProperty(obj Object, name string, value interface{}) error

	// CreateChild instantiates and registers a child of the given type.
	CreateChild(parent Node, name, typeName string) (Node, error)

	// NewValue creates one item of a list property.
	NewValue(lp *ListProperty, name string) (*ObjectProperty, error)

	// DeleteNode queues removal of a node and flushes.
	DeleteNode(n Node) error

	// ReorderChildren queues a reorder from old to new and flushes.
	ReorderChildren(n Node, old, new []string) error

	// Setstate loads the state of a ghost.
	Setstate(n Node) error

	// Register flags an object as changed outside the session API.
	Register(obj Node)

	// Checkin and Checkout drive versioning for documents.
	Checkin(n Node) error
	Checkout(n Node) error
}

// Node is the capability-independent surface shared by every
// persistent object.
type Node interface {
	Id() data.Id
	SetId(id data.Id)
	Name() string
	SetName(name string)
	TypeName() string
	Schema() *schema.Schema
	Parent() Node
	SetParent(p Node)
	Jar() Jar
	SetJar(j Jar)
	IsGhost() bool
	Ghostify()
	Changed() bool
	ClearChanged()
	MarkChanged()
}

// header is the shared per-object record: identity, naming, typing,
// ghost and dirty bits.
type header struct {
	self     Node
	id       data.Id
	name     string
	typeName string
	schema   *schema.Schema
	parent   Node
	jar      Jar
	ghost    bool
	changed  bool
}

func (h *header) init(self Node, name, typeName string, s *schema.Schema) {
	h.self = self
	h.name = name
	h.typeName = typeName
	h.schema = s
}

func (h *header) Id() data.Id            { return h.id }
func (h *header) SetId(id data.Id)       { h.id = id }
func (h *header) Name() string           { return h.name }
func (h *header) SetName(name string)    { h.name = name }
func (h *header) TypeName() string       { return h.typeName }
func (h *header) Schema() *schema.Schema { return h.schema }
func (h *header) Parent() Node           { return h.parent }
func (h *header) SetParent(p Node)       { h.parent = p }
func (h *header) Jar() Jar               { return h.jar }
func (h *header) SetJar(j Jar)           { h.jar = j }
func (h *header) IsGhost() bool          { return h.ghost }
func (h *header) SetGhost(ghost bool)    { h.ghost = ghost }
func (h *header) Changed() bool          { return h.changed }
func (h *header) ClearChanged()          { h.changed = false }

// MarkChanged records a mutation that did not go through the session
// API; the session's register hook decides whether it was legal.
func (h *header) MarkChanged() {
	h.changed = true
	if h.jar != nil {
		h.jar.Register(h.self)
	}
}

// setChanged is the session-internal dirty bit, set without invoking
// the guard.
func (h *header) setChanged() { h.changed = true }

// activate loads the state of a ghost before access.
func (h *header) activate() error {
	if !h.ghost {
		return nil
	}
	if h.jar == nil {
		h.ghost = false
		return nil
	}
	if err := h.jar.Setstate(h.self); err != nil {
		return err
	}
	h.ghost = false
	return nil
}

// Activate is the exported form used by the session after it has
// pre-seeded a pending state.
func (h *header) Activate() error { return h.activate() }

// Path returns the /-joined path from the root, for diagnostics.
func Path(n Node) string {
	if n == nil {
		return ""
	}
	if n.Parent() == nil {
		return "/" + n.Name()
	}
	parent := Path(n.Parent())
	if parent == "/" {
		return "/" + n.Name()
	}
	return parent + "/" + n.Name()
}
