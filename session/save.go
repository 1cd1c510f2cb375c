// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"sort"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/node"
	"github.com/capsule/capsuled/rpc"
)

// Savepoint sends the accumulated modifications to the repository and
// does a transient save: added objects in insertion order, then
// modifications, then removals and reorderings. Afterwards every
// added object carries its permanent id and lives in the cache.
func (c *Connection) Savepoint() error {
	commands, err := c.saveCommands()
	if err != nil {
		return err
	}
	idmap, err := c.ctrl.SendCommands(commands)
	if err != nil {
		return err
	}

	// Replace temporary ids with final ones, move new objects to the
	// cache.
	for _, toid := range c.addedOrder {
		obj := c.added[toid]
		oid, ok := idmap[toid]
		if !ok {
			return capsuled.ErrProtocol.New("no permanent id for token %s", toid)
		}
		obj.SetId(oid)
		obj.ClearChanged()
		c.cache.Set(oid, obj)
		c.created[oid] = true
	}

	for oid := range c.registered {
		if obj := c.getFromMaps(oid); obj != nil {
			obj.ClearChanged()
		}
		c.modified[oid] = true
	}

	c.registered = make(map[data.Id]map[string]bool)
	c.added = make(map[data.Id]node.Node)
	c.addedOrder = nil
	c.removed = nil
	c.reorders = nil
	return nil
}

// saveCommands assembles the command stream for the current
// modifications, in dependency order.
func (c *Connection) saveCommands() ([]rpc.Command, error) {
	var commands []rpc.Command

	for _, toid := range c.addedOrder {
		obj := c.added[toid]
		parent := obj.Parent()
		if parent == nil {
			return nil, capsuled.ErrSchema.New(
				"added object %q has no parent", obj.Name())
		}
		props, err := c.collectSimpleProperties(obj)
		if err != nil {
			return nil, err
		}
		commands = append(commands, rpc.Add{
			Parent: parent.Id(),
			Type:   obj.TypeName(),
			Token:  toid,
			Name:   obj.Name(),
			Props:  props,
		})
	}

	registeredIds := make([]data.Id, 0, len(c.registered))
	for oid := range c.registered {
		registeredIds = append(registeredIds, oid)
	}
	sort.Slice(registeredIds, func(i, j int) bool {
		return registeredIds[i] < registeredIds[j]
	})
	for _, oid := range registeredIds {
		obj := c.getFromMaps(oid)
		if obj == nil {
			return nil, capsuled.ErrSchema.New("registered id %s not in cache", oid)
		}
		props, err := c.collectProperties(obj, c.registered[oid])
		if err != nil {
			return nil, err
		}
		commands = append(commands, rpc.Modify{Id: oid, Props: props})
	}

	for _, oid := range c.removed {
		commands = append(commands, rpc.Remove{Id: oid})
	}
	for _, ro := range c.reorders {
		commands = append(commands, ro)
	}
	return commands, nil
}

// collectProperties gathers the changed property values of a modified
// object. An absent slot becomes a nil value, i.e. a wire delete. The
// unknown-key marker left by an illegal direct mutation refuses the
// whole save.
func (c *Connection) collectProperties(n node.Node, keys map[string]bool) ([]rpc.Prop, error) {
	if keys[unknownKey] {
		return nil, capsuled.ErrSchema.New(
			"unknown property changed on %q", node.Path(n))
	}
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, nil
	}
	obj, ok := n.(node.Object)
	if !ok {
		return nil, capsuled.ErrSchema.New(
			"registered object %q holds no properties", n.Name())
	}
	sort.Strings(names)

	props := make([]rpc.Prop, 0, len(names))
	for _, name := range names {
		p, ok, err := obj.Property(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			props = append(props, rpc.Prop{Name: name})
			continue
		}
		if p.IsComplex() {
			// Complex sub-nodes travel as their own add commands.
			continue
		}
		props = append(props, rpc.Prop{Name: name, Value: p.Value})
	}
	return props, nil
}

// collectSimpleProperties gathers the simple properties of a freshly
// added object. Complex sub-nodes are registered after their parent
// and travel as separate adds later in the order. Pure containers
// carry no properties.
func (c *Connection) collectSimpleProperties(n node.Node) ([]rpc.Prop, error) {
	obj, ok := n.(node.Object)
	if !ok {
		return nil, nil
	}
	names, err := obj.PropertyNames()
	if err != nil {
		return nil, err
	}
	var props []rpc.Prop
	for _, name := range names {
		p, ok, err := obj.Property(name)
		if err != nil {
			return nil, err
		}
		if !ok || p.IsComplex() {
			continue
		}
		props = append(props, rpc.Prop{Name: name, Value: p.Value})
	}
	return props, nil
}

// Commit flushes the transaction and prepares it on the repository:
// the first half of the two-phase commit.
func (c *Connection) Commit() error {
	if err := c.Savepoint(); err != nil {
		return err
	}
	return c.ctrl.Prepare()
}

// TPCVote commits the prepared transaction.
func (c *Connection) TPCVote() error {
	return c.ctrl.Commit()
}

// TPCFinish finalizes a successful commit.
func (c *Connection) TPCFinish() {
	c.tpcCleanup()
}

// Abort rolls back the repository transaction, invalidates every
// object touched and disowns objects created during the transaction.
// Abort is idempotent.
func (c *Connection) Abort() error {
	err := c.ctrl.Abort()

	for oid := range c.modified {
		c.cache.Invalidate(oid)
	}
	for oid := range c.registered {
		c.cache.Invalidate(oid)
	}
	for _, obj := range c.added {
		obj.SetJar(nil)
		obj.SetId("")
	}
	for oid := range c.created {
		if obj := c.cache.Get(oid); obj != nil {
			n := obj.(node.Node)
			n.SetJar(nil)
			n.SetId("")
		}
		c.cache.Delete(oid)
	}

	c.tpcCleanup()
	return err
}

// TPCAbort aborts a two-phase commit in flight.
func (c *Connection) TPCAbort() error {
	return c.Abort()
}

func (c *Connection) tpcCleanup() {
	c.modified = make(map[data.Id]bool)
	c.created = make(map[data.Id]bool)
	c.registered = make(map[data.Id]map[string]bool)
	c.added = make(map[data.Id]node.Node)
	c.addedOrder = nil
	c.removed = nil
	c.reorders = nil
	c.pendingStates = make(map[data.Id]*rpc.NodeState)
}
