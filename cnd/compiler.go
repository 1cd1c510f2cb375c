// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package cnd

import (
	"reflect"
	"strings"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/schema"
)

// Foundation types are roots of the inheritance graph; they carry no
// fields of their own and are not used as bases.
var tops = []string{"nt:base", "mix:versionable", "mix:referenceable"}

// System types whose structure exceeds the expressible subset; they
// stay known names but get no field tables.
var excludedTypeNames = map[string]bool{
	"rep:system":         true, // multiple * child nodes
	"rep:versionStorage": true, // multiple * child nodes
	"nt:frozenNode":      true, // * properties
	"nt:unstructured":    true, // * properties
	"nt:versionLabels":   true, // * properties
}

// Compiler incrementally compiles CND batches into schemas. Namespace
// and type redefinitions across batches are rejected unless identical.
type Compiler struct {
	namespaces map[string]string
	infos      map[string]*TypeInfo
	order      []string
	schemas    map[string]*schema.Schema
}

func NewCompiler() *Compiler {
	return &Compiler{
		namespaces: make(map[string]string),
		infos:      make(map[string]*TypeInfo),
		schemas:    make(map[string]*schema.Schema),
	}
}

// AddData compiles one CND batch and returns the names of the types
// it defined, in declaration order.
func (c *Compiler) AddData(src string) ([]string, error) {
	namespaces, types, err := parse(src)
	if err != nil {
		return nil, err
	}

	for ns, uri := range namespaces {
		if old, ok := c.namespaces[ns]; ok && old != uri {
			return nil, capsuled.ErrSchema.New(
				"namespace %q redefined (%q != %q)", ns, old, uri)
		}
	}
	var added []string
	inBatch := make(map[string]bool, len(types))
	for _, info := range types {
		if inBatch[info.Name] {
			return nil, capsuled.ErrSchema.New("node type %q redefined", info.Name)
		}
		inBatch[info.Name] = true
		if old, ok := c.infos[info.Name]; ok {
			if !reflect.DeepEqual(old, info) {
				return nil, capsuled.ErrSchema.New("node type %q redefined", info.Name)
			}
			continue
		}
		added = append(added, info.Name)
	}
	for ns, uri := range namespaces {
		c.namespaces[ns] = uri
	}
	for _, info := range types {
		if _, ok := c.infos[info.Name]; !ok {
			c.infos[info.Name] = info
			c.order = append(c.order, info.Name)
		}
	}

	if err := c.buildSchemas(added); err != nil {
		return nil, err
	}
	return added, nil
}

// Schema returns the compiled schema for a name, or nil.
func (c *Compiler) Schema(name string) *schema.Schema {
	return c.schemas[name]
}

// Names returns every compiled type name in declaration order.
func (c *Compiler) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Compiler) Namespaces() map[string]string {
	out := make(map[string]string, len(c.namespaces))
	for ns, uri := range c.namespaces {
		out[ns] = uri
	}
	return out
}

// buildSchemas allocates empty schemas in topological supertype order,
// then populates field tables. The two passes let fields reference
// other types by name regardless of declaration order or cycles
// through child declarations.
func (c *Compiler) buildSchemas(added []string) error {
	newNames := make(map[string]bool, len(added))
	for _, name := range added {
		newNames[name] = true
	}

	graph := make(map[string][]string, len(c.infos)+len(tops))
	for name, info := range c.infos {
		graph[name] = info.Supertypes
	}
	for _, top := range tops {
		graph[top] = nil
	}

	sorted, err := TopologicalSort(graph)
	if err != nil {
		return capsuled.ErrSchema.New("%s in type inheritance", errMessage(err))
	}

	// First pass: headers, with supertype ancestry flattened in.
	for _, name := range sorted {
		if !newNames[name] {
			continue
		}
		info := c.infos[name]
		s := schema.New(name, info.Orderable, info.Mixin)
		for _, sup := range info.Supertypes {
			if sup == "nt:base" || strings.HasPrefix(sup, "mix:") {
				continue
			}
			base := c.schemas[sup]
			if base == nil {
				return capsuled.ErrSchema.New(
					"unknown supertype %q of [%s]", sup, name)
			}
			s.AddBase(base)
		}
		for _, node := range info.Nodes {
			if node.Name == "*" {
				s.SetContainer()
			}
		}
		c.schemas[name] = s
	}

	// Wildcard children first, so that list-property detection can see
	// every container's item precondition.
	for _, name := range added {
		if excludedTypeNames[name] {
			continue
		}
		if err := c.wireWildcards(name); err != nil {
			return err
		}
	}

	for _, name := range added {
		if excludedTypeNames[name] {
			continue
		}
		if err := c.wireFields(name); err != nil {
			return err
		}
	}

	// Bases compiled in this batch had no fields yet when the first pass
	// flattened them in; flatten again in supertype order, then rewire
	// the type's own fields so that they override inherited ones.
	for _, name := range sorted {
		if s := c.schemas[name]; newNames[name] && !excludedTypeNames[name] {
			for _, sup := range s.Bases() {
				s.AddBase(c.schemas[sup])
			}
			if err := c.wireFields(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Compiler) wireWildcards(name string) error {
	info := c.infos[name]
	s := c.schemas[name]
	for _, node := range info.Nodes {
		if node.Name != "*" {
			continue
		}
		if node.Options.Multiple {
			return capsuled.ErrSchema.New(
				"multiple * child nodes are disallowed for [%s]", name)
		}
		switch len(node.RequiredTypes) {
		case 0:
			s.AllowAnyItem()
		case 1:
			t := node.RequiredTypes[0]
			if c.schemas[t] == nil {
				return capsuled.ErrSchema.New(
					"unknown type %s referenced by [%s] + *", t, name)
			}
			s.AddItemType(t)
		default:
			return capsuled.ErrSchema.New(
				"can't have more than one required type for [%s] + *", name)
		}
	}
	return nil
}

func (c *Compiler) wireFields(name string) error {
	info := c.infos[name]
	s := c.schemas[name]

	for _, prop := range info.Properties {
		if prop.Name == "*" {
			return capsuled.ErrSchema.New(
				"* properties are disallowed for [%s]", name)
		}
		if prop.Options.Autocreated {
			return capsuled.ErrSchema.New(
				"autocreated is disallowed for [%s] - %s", name, prop.Name)
		}
		kind, ok := data.KindForName(prop.TypeName)
		if !ok {
			return capsuled.ErrSchema.New(
				"unknown property type %q for [%s] - %s", prop.TypeName, name, prop.Name)
		}
		s.AddProperty(&schema.PropertyField{
			Name:        prop.Name,
			Kind:        kind,
			Multiple:    prop.Options.Multiple,
			Defaults:    prop.Defaults,
			Constraints: prop.Constraints,
			Options:     prop.Options,
		})
	}

	for _, node := range info.Nodes {
		if node.Name == "*" {
			continue
		}
		if node.Options.Multiple {
			return capsuled.ErrSchema.New(
				"same-name siblings are disallowed for [%s] + %s", name, node.Name)
		}
		if node.Options.Autocreated {
			return capsuled.ErrSchema.New(
				"autocreated is disallowed for [%s] + %s", name, node.Name)
		}
		if node.DefaultType != "" {
			return capsuled.ErrSchema.New(
				"default primary type is disallowed for [%s] + %s", name, node.Name)
		}

		var typeName string
		switch len(node.RequiredTypes) {
		case 0:
			// any type
		case 1:
			typeName = node.RequiredTypes[0]
			if c.schemas[typeName] == nil {
				return capsuled.ErrSchema.New(
					"unknown type %s referenced by [%s] + %s", typeName, name, node.Name)
			}
		default:
			return capsuled.ErrSchema.New(
				"can't have more than one required type for [%s] + %s", name, node.Name)
		}

		field := &schema.ChildField{Name: node.Name, TypeName: typeName}
		if typeName != "" {
			target := c.schemas[typeName]
			if target.IsContainer() {
				// A container-typed single child is a homogeneous list
				// property: no properties of its own, at most one item
				// type.
				if names := target.PropertyNames(); len(names) > 0 {
					return capsuled.ErrSchema.New(
						"cannot have container with properties (%s) for [%s] + %s",
						strings.Join(names, ", "), name, node.Name)
				}
				items := target.ItemTypes()
				if len(items) > 1 {
					return capsuled.ErrSchema.New(
						"list cannot hold more than one type for [%s] + %s",
						name, node.Name)
				}
				field.List = true
				if len(items) == 1 {
					field.ItemType = items[0]
				}
			}
		}
		s.AddChild(field)
	}
	return nil
}

// errMessage strips the class prefix added by errs so the message can
// be rewrapped.
func errMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
