// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package schema defines the in-memory type descriptors compiled from
// CND definitions, and the registry shared read-only by sessions after
// bootstrap.
package schema

import (
	"github.com/capsule/capsuled/data"
)

// ClassKind selects the runtime representation of a loaded node.
type ClassKind int

const (
	ClassObjectProperty ClassKind = iota
	ClassListProperty
	ClassChildren
	ClassDocument
	ClassWorkspace
)

func (k ClassKind) String() string {
	switch k {
	case ClassObjectProperty:
		return "objectproperty"
	case ClassListProperty:
		return "listproperty"
	case ClassChildren:
		return "children"
	case ClassDocument:
		return "document"
	case ClassWorkspace:
		return "workspace"
	}
	return "unknown"
}

// PropOptions are the per-declaration options of a property or child
// node entry.
type PropOptions struct {
	Primary     bool
	Autocreated bool
	Mandatory   bool
	Protected   bool
	Multiple    bool
	Version     string // copy, version, initialize, compute, ignore, abort
}

// PropertyField describes one declared property.
type PropertyField struct {
	Name        string
	Kind        data.Kind
	Multiple    bool
	Defaults    []string
	Constraints []string
	Options     PropOptions
}

// ChildField describes one declared single-name child node. List is
// set when the child is a homogeneous list property: its type is a
// container admitting exactly one item type and holding no properties.
type ChildField struct {
	Name     string
	TypeName string // empty admits any type
	ItemType string // item type of a list property
	List     bool
}

// Schema is a compiled type descriptor. Fields inherited from
// supertypes are flattened in at compile time, so lookups never chase
// the base chain.
type Schema struct {
	name      string
	bases     []string
	ancestors map[string]bool
	orderable bool
	mixin     bool

	container bool
	anyItem   bool
	itemTypes []string

	propNames  []string
	props      map[string]*PropertyField
	childNames []string
	children   map[string]*ChildField
}

func New(name string, orderable, mixin bool) *Schema {
	return &Schema{
		name:      name,
		ancestors: make(map[string]bool),
		orderable: orderable,
		mixin:     mixin,
		props:     make(map[string]*PropertyField),
		children:  make(map[string]*ChildField),
	}
}

func (s *Schema) Name() string      { return s.name }
func (s *Schema) Orderable() bool   { return s.orderable }
func (s *Schema) Mixin() bool       { return s.mixin }
func (s *Schema) IsContainer() bool { return s.container }
func (s *Schema) Bases() []string   { return s.bases }

// Extends reports whether the schema is or transitively inherits the
// named type.
func (s *Schema) Extends(name string) bool {
	return s.name == name || s.ancestors[name]
}

// AddBase flattens a compiled base schema into this one.
func (s *Schema) AddBase(base *Schema) {
	s.bases = append(s.bases, base.name)
	s.ancestors[base.name] = true
	for a := range base.ancestors {
		s.ancestors[a] = true
	}
	if base.container {
		s.container = true
	}
	if base.anyItem {
		s.anyItem = true
	}
	for _, t := range base.itemTypes {
		s.addItemType(t)
	}
	for _, name := range base.propNames {
		s.AddProperty(base.props[name])
	}
	for _, name := range base.childNames {
		s.AddChild(base.children[name])
	}
}

// SetContainer marks the schema as holding wildcard children.
func (s *Schema) SetContainer() { s.container = true }

// AllowAnyItem lifts the item-type precondition.
func (s *Schema) AllowAnyItem() { s.anyItem = true }

// AddItemType admits one more item type to the container
// precondition.
func (s *Schema) AddItemType(name string) { s.addItemType(name) }

func (s *Schema) addItemType(name string) {
	for _, t := range s.itemTypes {
		if t == name {
			return
		}
	}
	s.itemTypes = append(s.itemTypes, name)
}

// ItemTypes returns the admitted item types; nil together with a true
// AnyItem means any type is admitted.
func (s *Schema) ItemTypes() []string { return s.itemTypes }
func (s *Schema) AnyItem() bool       { return s.anyItem }

// AllowsItem checks the container precondition against a candidate
// item schema.
func (s *Schema) AllowsItem(item *Schema) bool {
	if !s.container {
		return false
	}
	if s.anyItem || len(s.itemTypes) == 0 {
		return s.anyItem
	}
	for _, t := range s.itemTypes {
		if item.Extends(t) {
			return true
		}
	}
	return false
}

// AddProperty registers or overrides a property field, preserving
// first-declaration order.
func (s *Schema) AddProperty(f *PropertyField) {
	if _, ok := s.props[f.Name]; !ok {
		s.propNames = append(s.propNames, f.Name)
	}
	s.props[f.Name] = f
}

func (s *Schema) Property(name string) *PropertyField {
	return s.props[name]
}

func (s *Schema) PropertyNames() []string { return s.propNames }

// AddChild registers or overrides a child field, preserving
// first-declaration order.
func (s *Schema) AddChild(f *ChildField) {
	if _, ok := s.children[f.Name]; !ok {
		s.childNames = append(s.childNames, f.Name)
	}
	s.children[f.Name] = f
}

func (s *Schema) Child(name string) *ChildField {
	return s.children[name]
}

func (s *Schema) ChildNames() []string { return s.childNames }
