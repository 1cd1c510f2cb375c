// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"strconv"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/node"
	"github.com/capsule/capsuled/rpc"
	"github.com/capsule/capsuled/schema"
)

// Setstate loads the state of a ghost, either from a pre-seeded
// pending state or with a controller round trip. Called by the object
// model on first access.
func (c *Connection) Setstate(n node.Node) error {
	oid := n.Id()
	st, ok := c.pendingStates[oid]
	if ok {
		delete(c.pendingStates, oid)
	} else {
		states, err := c.ctrl.GetNodeStates([]data.Id{oid})
		if err != nil {
			c.ctx.Elog.WithField("id", oid.String()).
				WithError(err).Error("couldn't load state")
			return err
		}
		st, ok = states[oid]
		if !ok {
			return capsuled.ErrProtocol.New("no state returned for %s", oid)
		}
	}

	switch obj := n.(type) {
	case *node.Workspace:
		return c.applyObjectState(&obj.Document, st, true)
	case *node.Document:
		return c.applyObjectState(obj, st, true)
	case *node.Children:
		return c.applyContainerState(obj, st)
	case *node.ListProperty:
		return c.applyContainerState(obj, st)
	case *node.ObjectProperty:
		return c.applyPropertyState(obj, st)
	}
	return capsuled.ErrSchema.New("unknown class %T for %s", n, oid)
}

// applyObjectState fills a document from a wire state: parent link,
// simple properties and the complex children walk. The children
// holder lands in its designated slot; everything else becomes a
// complex property.
func (c *Connection) applyObjectState(d *node.Document, st *rpc.NodeState, fullDocument bool) error {
	obj := node.Object(d)
	if err := c.applyCommon(obj, st); err != nil {
		return err
	}

	var holder *node.Children
	grouped, order := groupChildren(st.Children)
	for _, name := range order {
		infos := grouped[name]
		if fullDocument && name == node.ChildrenSlot {
			child, err := c.Get(infos[0].Id, infos[0].Type)
			if err != nil {
				return err
			}
			var ok bool
			holder, ok = child.(*node.Children)
			if !ok {
				return capsuled.ErrProtocol.New(
					"children holder %s has class %T", infos[0].Id, child)
			}
			continue
		}
		if err := c.applyComplexChild(obj, name, infos); err != nil {
			return err
		}
	}
	if fullDocument {
		if holder != nil {
			d.SetChildrenHolder(holder)
		} else {
			d.SetChildrenHolder(node.NewNoChildrenYet(d))
		}
	}
	return nil
}

func (c *Connection) applyPropertyState(obj *node.ObjectProperty, st *rpc.NodeState) error {
	if err := c.applyCommon(obj, st); err != nil {
		return err
	}
	grouped, order := groupChildren(st.Children)
	for _, name := range order {
		if err := c.applyComplexChild(obj, name, grouped[name]); err != nil {
			return err
		}
	}
	return nil
}

// applyCommon sets the parent link, name and simple properties. The
// jcr:primaryType property is consumed by class selection and not
// stored.
func (c *Connection) applyCommon(obj node.Object, st *rpc.NodeState) error {
	obj.SetName(st.Name)
	if st.Parent != "" {
		parent, err := c.Get(st.Parent, "")
		if err != nil {
			return err
		}
		obj.SetParent(parent)
	}
	for _, p := range st.Props {
		if p.Name == "jcr:primaryType" {
			continue
		}
		obj.StoreValue(p.Name, p.Value)
	}
	return nil
}

// applyComplexChild stores one complex property: a direct sub-node, a
// list-property node, or a list property fabricated from same-name
// siblings.
func (c *Connection) applyComplexChild(obj node.Object, name string, infos []rpc.ChildInfo) error {
	s := obj.Schema()
	var field *schema.ChildField
	if s != nil {
		if child := s.Child(name); child != nil && child.List {
			field = child
		}
	}

	if len(infos) == 1 && (field == nil || infos[0].Type == field.TypeName) {
		child, err := c.Get(infos[0].Id, infos[0].Type)
		if err != nil {
			return err
		}
		obj.StoreNode(name, child)
		return nil
	}

	// Same-name siblings: the items of a list property reported
	// inline. Fabricate the virtual list node and pre-seed its state
	// so its activation needs no round trip.
	if field == nil {
		return capsuled.ErrSchema.New(
			"same-name siblings for %q with no list property declared", name)
	}
	listSchema := c.reg.GetSchema(field.TypeName)
	virtualId := data.Id("V:" + obj.Id().String() + ":" + name)
	lp := node.NewListPropertyGhost(virtualId, listSchema, c.listValueSchema(listSchema))
	lp.SetJar(c)
	lp.SetName(name)
	c.pendingStates[virtualId] = &rpc.NodeState{
		Id:       virtualId,
		Name:     name,
		Children: renumber(infos),
	}
	c.cache.Set(virtualId, lp)
	obj.StoreNode(name, lp)
	return nil
}

// applyContainerState fills a children holder or list property from a
// wire state.
func (c *Connection) applyContainerState(cont node.Container, st *rpc.NodeState) error {
	cont.SetName(st.Name)
	if st.Parent != "" {
		parent, err := c.Get(st.Parent, "")
		if err != nil {
			return err
		}
		cont.SetParent(parent)
	}
	order := make([]string, 0, len(st.Children))
	for _, info := range st.Children {
		child, err := c.Get(info.Id, info.Type)
		if err != nil {
			return err
		}
		cont.PutChild(info.Name, child)
		order = append(order, info.Name)
	}
	cont.SetOrder(order)
	return nil
}

// groupChildren accumulates same-name siblings while preserving first
// occurrence order.
func groupChildren(children []rpc.ChildInfo) (map[string][]rpc.ChildInfo, []string) {
	grouped := make(map[string][]rpc.ChildInfo)
	var order []string
	for _, info := range children {
		if _, ok := grouped[info.Name]; !ok {
			order = append(order, info.Name)
		}
		grouped[info.Name] = append(grouped[info.Name], info)
	}
	return grouped, order
}

// renumber gives inline list items positional names so the virtual
// container has unique keys.
func renumber(infos []rpc.ChildInfo) []rpc.ChildInfo {
	out := make([]rpc.ChildInfo, len(infos))
	for i, info := range infos {
		out[i] = info
		out[i].Name = "item" + strconv.Itoa(i)
	}
	return out
}
