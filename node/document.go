// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package node

import (
	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/schema"
)

// Document is a full content object: properties plus a children
// holder, with versioning hooks. It has a container rather than being
// one; the holder lives as the ecm:children child node.
type Document struct {
	objectBase
	children interface{} // *Children or *NoChildrenYet
}

func NewDocument(name string, s *schema.Schema) *Document {
	d := &Document{}
	d.init(d, name, s.Name(), s)
	d.children = NewNoChildrenYet(d)
	return d
}

func NewDocumentGhost(id data.Id, typeName string, s *schema.Schema) *Document {
	d := &Document{}
	d.init(d, "", typeName, s)
	d.id = id
	d.ghost = true
	return d
}

func (d *Document) Ghostify() {
	d.ghost = true
	d.objectState.reset()
	d.children = nil
}

// ChildrenHolder returns the current holder: a *Children once any
// child exists, a *NoChildrenYet before that.
func (d *Document) ChildrenHolder() (interface{}, error) {
	if err := d.activate(); err != nil {
		return nil, err
	}
	if d.children == nil {
		d.children = NewNoChildrenYet(d)
	}
	return d.children, nil
}

// SetChildrenHolder installs the holder; used by the session while
// loading state.
func (d *Document) SetChildrenHolder(holder interface{}) {
	d.children = holder
}

// AddChild adds a sub-document, materializing the children holder on
// first use.
func (d *Document) AddChild(name, typeName string) (Node, error) {
	holder, err := d.ChildrenHolder()
	if err != nil {
		return nil, err
	}
	children, ok := holder.(*Children)
	if !ok {
		if d.jar == nil {
			return nil, capsuled.ErrSchema.New("document %q has no session", d.name)
		}
		created, err := d.jar.CreateChild(d, ChildrenSlot, ChildrenTypeName)
		if err != nil {
			return nil, err
		}
		children, ok = created.(*Children)
		if !ok {
			return nil, capsuled.ErrSchema.New("children holder has wrong class")
		}
		d.children = children
	}
	return children.AddChild(name, typeName)
}

// Child returns a sub-document by name.
func (d *Document) Child(name string) (Node, error) {
	holder, err := d.ChildrenHolder()
	if err != nil {
		return nil, err
	}
	if children, ok := holder.(*Children); ok {
		return children.Child(name)
	}
	return nil, capsuled.ErrNotFound.New("child %q", name)
}

func (d *Document) HasChild(name string) (bool, error) {
	holder, err := d.ChildrenHolder()
	if err != nil {
		return false, err
	}
	if children, ok := holder.(*Children); ok {
		return children.HasChild(name)
	}
	return false, nil
}

func (d *Document) Keys() ([]string, error) {
	holder, err := d.ChildrenHolder()
	if err != nil {
		return nil, err
	}
	if children, ok := holder.(*Children); ok {
		return children.Keys()
	}
	return nil, nil
}

func (d *Document) RemoveChild(name string) error {
	holder, err := d.ChildrenHolder()
	if err != nil {
		return err
	}
	if children, ok := holder.(*Children); ok {
		return children.RemoveChild(name)
	}
	return capsuled.ErrNotFound.New("child %q", name)
}

// Checkin creates a new version of the document.
func (d *Document) Checkin() error {
	if d.jar == nil {
		return capsuled.ErrSchema.New("document %q has no session", d.name)
	}
	return d.jar.Checkin(d)
}

// Checkout reopens the document for modification.
func (d *Document) Checkout() error {
	if d.jar == nil {
		return capsuled.ErrSchema.New("document %q has no session", d.name)
	}
	return d.jar.Checkout(d)
}

// IsCheckedOut consults the jcr:isCheckedOut system property,
// defaulting to true when absent.
func (d *Document) IsCheckedOut() (bool, error) {
	p, ok, err := d.Property("jcr:isCheckedOut")
	if err != nil {
		return false, err
	}
	if !ok || p.IsComplex() {
		return true, nil
	}
	b, ok := p.Value.(data.Bool)
	if !ok {
		return true, nil
	}
	return bool(b), nil
}

// Workspace is the document at the root of a workspace tree.
type Workspace struct {
	Document
}

func NewWorkspaceGhost(id data.Id, typeName string, s *schema.Schema) *Workspace {
	w := &Workspace{}
	w.init(w, "", typeName, s)
	w.id = id
	w.ghost = true
	return w
}

func (w *Workspace) Ghostify() {
	w.ghost = true
	w.objectState.reset()
	w.children = nil
}
