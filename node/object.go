// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package node

import (
	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/schema"
)

// Prop is one stored property slot: either a simple typed value or a
// complex sub-node, never both.
type Prop struct {
	Value   data.Value
	Complex Node
}

func (p Prop) IsComplex() bool { return p.Complex != nil }

// objectState is the ordered property map of a loaded object.
type objectState struct {
	names []string
	props map[string]Prop
}

func (o *objectState) reset() {
	o.names = nil
	o.props = nil
}

func (o *objectState) ensure() {
	if o.props == nil {
		o.props = make(map[string]Prop)
	}
}

// StoreValue sets a simple property slot without session bookkeeping;
// the session uses it while loading state and applying writes.
func (o *objectState) StoreValue(name string, v data.Value) {
	o.ensure()
	if _, ok := o.props[name]; !ok {
		o.names = append(o.names, name)
	}
	o.props[name] = Prop{Value: v}
}

// StoreNode sets a complex property slot.
func (o *objectState) StoreNode(name string, n Node) {
	o.ensure()
	if _, ok := o.props[name]; !ok {
		o.names = append(o.names, name)
	}
	o.props[name] = Prop{Complex: n}
}

// DropProp removes a property slot.
func (o *objectState) DropProp(name string) {
	if _, ok := o.props[name]; !ok {
		return
	}
	delete(o.props, name)
	for i, n := range o.names {
		if n == name {
			o.names = append(o.names[:i], o.names[i+1:]...)
			break
		}
	}
}

// Object is the has-properties capability.
type Object interface {
	Node

	// Property returns the slot for a name; ok is false when absent.
	Property(name string) (Prop, bool, error)
	// PropertyNames returns the stored property names in order.
	PropertyNames() ([]string, error)
	// SetProperty routes a write through the session.
	SetProperty(name string, value interface{}) error

	// State mutators used by the owning session.
	StoreValue(name string, v data.Value)
	StoreNode(name string, n Node)
	DropProp(name string)
}

// objectBase combines the shared header with a property map and
// implements Object for embedding.
type objectBase struct {
	header
	objectState
}

func (o *objectBase) Property(name string) (Prop, bool, error) {
	if err := o.activate(); err != nil {
		return Prop{}, false, err
	}
	p, ok := o.props[name]
	return p, ok, nil
}

func (o *objectBase) PropertyNames() ([]string, error) {
	if err := o.activate(); err != nil {
		return nil, err
	}
	out := make([]string, len(o.names))
	copy(out, o.names)
	return out, nil
}

func (o *objectBase) SetProperty(name string, value interface{}) error {
	if o.jar == nil {
		return capsuled.ErrSchema.New("object %q has no session", o.name)
	}
	if err := o.activate(); err != nil {
		return err
	}
	obj, ok := o.self.(Object)
	if !ok {
		return capsuled.ErrSchema.New("object %q cannot hold properties", o.name)
	}
	return o.jar.SetProperty(obj, name, value)
}

// GetValue is a convenience accessor for simple properties.
func (o *objectBase) GetValue(name string) (data.Value, error) {
	p, ok, err := o.Property(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, capsuled.ErrNotFound.New("property %q", name)
	}
	if p.IsComplex() {
		return nil, capsuled.ErrSchema.New("property %q is complex", name)
	}
	return p.Value, nil
}

// ObjectProperty is a complex property value: a node holding simple
// properties of its own, living under its owning object.
type ObjectProperty struct {
	objectBase
}

func NewObjectProperty(name string, s *schema.Schema) *ObjectProperty {
	o := &ObjectProperty{}
	o.init(o, name, s.Name(), s)
	return o
}

// NewObjectPropertyGhost builds an unloaded instance; the first access
// triggers a state load through the jar.
func NewObjectPropertyGhost(id data.Id, typeName string, s *schema.Schema) *ObjectProperty {
	o := &ObjectProperty{}
	o.init(o, "", typeName, s)
	o.id = id
	o.ghost = true
	return o
}

func (o *ObjectProperty) Ghostify() {
	o.ghost = true
	o.objectState.reset()
}
