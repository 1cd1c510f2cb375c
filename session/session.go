// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package session implements the transactional connection to a
// workspace: the identity cache, dirty tracking, temporary id
// assignment and the two-phase commit against the controller.
//
// A session is single-writer; it is not safe for concurrent calls.
package session

import (
	"fmt"
	"sort"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/cache"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/node"
	"github.com/capsule/capsuled/rpc"
	"github.com/capsule/capsuled/schema"
)

// unknownKey is the sentinel marker recorded when an object was
// changed outside the session API. It forces the next save to refuse
// the object so that silent wrong writes cannot occur.
const unknownKey = "__unknown__"

// Controller is the synchronous repository surface the session
// depends on; satisfied by client.Controller and by the test fake.
type Controller interface {
	Login(workspace string) (data.Id, error)
	GetNodeTypeDefs() (string, error)
	GetNodeType(id data.Id) (string, error)
	GetNodeStates(ids []data.Id) (map[data.Id]*rpc.NodeState, error)
	SendCommands(commands []rpc.Command) (map[data.Id]data.Id, error)
	Prepare() error
	Commit() error
	Abort() error
	Checkpoint(id data.Id) error
	Checkout(id data.Id) error
	Restore(id data.Id, version string) ([]data.Id, error)
}

// Registry is the read-only schema knowledge shared by every session
// after bootstrap.
type Registry interface {
	GetSchema(name string) *schema.Schema
	GetClass(name string) (schema.ClassKind, bool)
}

// Connection is one transactional session rooted at a workspace.
type Connection struct {
	ctx    *capsuled.Context
	ctrl   Controller
	reg    Registry
	cache  *cache.Cache
	rootId data.Id

	// States fetched ahead of their ghost's activation.
	pendingStates map[data.Id]*rpc.NodeState

	// Mapping of id to the set of changed property names for cached
	// objects. Never includes objects from added.
	registered map[data.Id]map[string]bool

	// Added objects by temporary id, and the order they were added in.
	added      map[data.Id]node.Node
	addedOrder []data.Id

	// Removals and reorders queued for the next flush.
	removed  []data.Id
	reorders []rpc.Reorder

	// Filled at savepoint time: ids promoted to permanent, and ids
	// whose stored state may differ from the last committed state.
	created  map[data.Id]bool
	modified map[data.Id]bool

	nextTmp uint64

	// One-shot guard token letting the session mark an object changed
	// without tripping the illegal-mutation warning.
	manualRegister data.Id
}

// Open logs the controller into a workspace and returns a fresh
// session holding the root id.
func Open(ctrl Controller, reg Registry, ctx *capsuled.Context, workspace string, cacheSize int) (*Connection, error) {
	rootId, err := ctrl.Login(workspace)
	if err != nil {
		return nil, err
	}
	c := New(ctrl, reg, ctx, cacheSize)
	c.rootId = rootId
	return c, nil
}

// New builds a session without logging in; the test helpers use it
// with a pre-seeded fake.
func New(ctrl Controller, reg Registry, ctx *capsuled.Context, cacheSize int) *Connection {
	if ctx == nil {
		ctx = capsuled.NewContext(nil)
	}
	c := &Connection{
		ctx:           ctx,
		ctrl:          ctrl,
		reg:           reg,
		cache:         cache.New(cacheSize),
		pendingStates: make(map[data.Id]*rpc.NodeState),
		registered:    make(map[data.Id]map[string]bool),
		added:         make(map[data.Id]node.Node),
		created:       make(map[data.Id]bool),
		modified:      make(map[data.Id]bool),
		nextTmp:       1,
	}
	return c
}

func (c *Connection) RootId() data.Id { return c.rootId }

// Controller exposes the owned controller for surfaces the session
// does not wrap (path lookup, search) and for pool teardown.
func (c *Connection) Controller() Controller { return c.ctrl }

// Root returns the workspace root object.
func (c *Connection) Root() (node.Node, error) {
	return c.Get(c.rootId, "")
}

// Get returns the object for an id: the cached object when present,
// otherwise a fresh ghost. With a non-empty typeHint no round trip is
// needed to pick the class.
func (c *Connection) Get(id data.Id, typeHint string) (node.Node, error) {
	if obj := c.getFromMaps(id); obj != nil {
		return obj, nil
	}
	return c.makeGhost(id, typeHint)
}

func (c *Connection) getFromMaps(id data.Id) node.Node {
	if obj := c.cache.Get(id); obj != nil {
		return obj.(node.Node)
	}
	if obj, ok := c.added[id]; ok {
		return obj
	}
	return nil
}

func (c *Connection) makeGhost(id data.Id, typeName string) (node.Node, error) {
	if typeName == "" {
		var err error
		typeName, err = c.ctrl.GetNodeType(id)
		if err != nil {
			return nil, err
		}
	}
	obj, err := c.newGhost(id, typeName)
	if err != nil {
		return nil, err
	}
	obj.SetJar(c)
	c.cache.Set(id, obj)
	return obj, nil
}

func (c *Connection) newGhost(id data.Id, typeName string) (node.Node, error) {
	s := c.reg.GetSchema(typeName)
	kind, ok := c.reg.GetClass(typeName)
	if !ok {
		return nil, capsuled.ErrSchema.New("unknown node type %q", typeName)
	}
	switch kind {
	case schema.ClassWorkspace:
		return node.NewWorkspaceGhost(id, typeName, s), nil
	case schema.ClassDocument:
		return node.NewDocumentGhost(id, typeName, s), nil
	case schema.ClassChildren:
		return node.NewChildrenGhost(id, s), nil
	case schema.ClassListProperty:
		return node.NewListPropertyGhost(id, s, c.listValueSchema(s)), nil
	case schema.ClassObjectProperty:
		return node.NewObjectPropertyGhost(id, typeName, s), nil
	}
	return nil, capsuled.ErrSchema.New("unknown class kind for %q", typeName)
}

func (c *Connection) listValueSchema(s *schema.Schema) *schema.Schema {
	if s == nil {
		return nil
	}
	items := s.ItemTypes()
	if len(items) != 1 {
		return nil
	}
	return c.reg.GetSchema(items[0])
}

// registerAdded gives a created node a temporary id and queues it for
// the next save. The parent is marked changed through the one-shot
// guard.
func (c *Connection) registerAdded(obj node.Node, parent node.Node) {
	oid := data.TempId(c.nextTmp)
	c.nextTmp++

	obj.SetParent(parent)
	obj.SetId(oid)
	obj.SetJar(c)
	c.added[oid] = obj
	c.addedOrder = append(c.addedOrder, oid)

	c.manualRegister = parent.Id()
	parent.MarkChanged()
	c.manualRegister = ""
}

// Register is the dirty-guard hook invoked when an object is marked
// changed. A registration that did not come through the session's
// one-shot token is an illegal direct mutation: it is logged and the
// object is poisoned with the unknown-key marker.
func (c *Connection) Register(obj node.Node) {
	oid := obj.Id()
	if _, ok := c.added[oid]; ok {
		return
	}
	if c.registered[oid] == nil {
		c.registered[oid] = make(map[string]bool)
	}
	if c.manualRegister != oid {
		c.ctx.Wlog.WithField("path", node.Path(obj)).
			Warn("illegal direct attribute modification")
		c.registered[oid][unknownKey] = true
	}
}

// propChanged records a property name as changed on a cached object.
func (c *Connection) propChanged(obj node.Node, name string) {
	oid := obj.Id()
	if _, ok := c.added[oid]; ok {
		obj.MarkChanged()
		return
	}
	c.manualRegister = oid
	obj.MarkChanged()
	c.manualRegister = ""
	c.registered[oid][name] = true
}

// SetProperty routes a property write on an object. value is a
// data.Value for simple fields, a map[string]data.Value for complex
// object properties, a []map[string]data.Value for list properties,
// or nil to delete.
func (c *Connection) SetProperty(obj node.Object, name string, value interface{}) error {
	prop, exists, err := obj.Property(name)
	if err != nil {
		return err
	}

	if value == nil {
		if !exists {
			return nil
		}
		if prop.IsComplex() {
			if err := c.DeleteNode(prop.Complex); err != nil {
				return err
			}
			obj.DropProp(name)
			return nil
		}
		obj.DropProp(name)
		c.propChanged(obj, name)
		return nil
	}

	if exists {
		if prop.IsComplex() {
			switch v := value.(type) {
			case map[string]data.Value:
				sub, ok := prop.Complex.(*node.ObjectProperty)
				if !ok {
					return capsuled.ErrSchema.New(
						"property %q is not an object property", name)
				}
				return c.populateObject(sub, v)
			case []map[string]data.Value:
				lp, ok := prop.Complex.(*node.ListProperty)
				if !ok {
					return capsuled.ErrSchema.New(
						"property %q is not a list property", name)
				}
				return c.populateList(lp, v)
			default:
				return capsuled.ErrSchema.New(
					"cannot replace complex property %q with %T", name, value)
			}
		}
		v, ok := value.(data.Value)
		if !ok {
			return capsuled.ErrSchema.New(
				"property %q holds a simple value, got %T", name, value)
		}
		obj.StoreValue(name, v)
		c.propChanged(obj, name)
		return nil
	}

	// No previous value: consult the schema.
	s := obj.Schema()
	if s == nil {
		return capsuled.ErrSchema.New("object %q has no schema", obj.Name())
	}
	if child := s.Child(name); child != nil {
		return c.createComplexProperty(obj, name, child, value)
	}
	if field := s.Property(name); field != nil {
		v, ok := value.(data.Value)
		if !ok {
			return capsuled.ErrSchema.New(
				"property %q holds a simple value, got %T", name, value)
		}
		obj.StoreValue(name, v)
		c.propChanged(obj, name)
		return nil
	}
	return capsuled.ErrSchema.New(
		"no property %q in schema %s", name, s.Name())
}

func (c *Connection) createComplexProperty(obj node.Object, name string, field *schema.ChildField, value interface{}) error {
	if field.List {
		items, ok := value.([]map[string]data.Value)
		if !ok {
			return capsuled.ErrSchema.New(
				"list property %q must be created from items, got %T", name, value)
		}
		listSchema := c.reg.GetSchema(field.TypeName)
		lp := node.NewListProperty(name, listSchema, c.listValueSchema(listSchema))
		c.registerAdded(lp, obj)
		if err := c.populateList(lp, items); err != nil {
			return err
		}
		obj.StoreNode(name, lp)
		return nil
	}

	values, ok := value.(map[string]data.Value)
	if !ok {
		return capsuled.ErrSchema.New(
			"object property %q must be created from simple values, got %T", name, value)
	}
	target := c.reg.GetSchema(field.TypeName)
	if target == nil {
		return capsuled.ErrSchema.New(
			"unknown type %q for property %q", field.TypeName, name)
	}
	sub := node.NewObjectProperty(name, target)
	c.registerAdded(sub, obj)
	if err := c.populateObject(sub, values); err != nil {
		return err
	}
	obj.StoreNode(name, sub)
	return nil
}

func (c *Connection) populateObject(sub *node.ObjectProperty, values map[string]data.Value) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.SetProperty(sub, name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) populateList(lp *node.ListProperty, items []map[string]data.Value) error {
	for _, item := range items {
		sub, err := lp.AddValue()
		if err != nil {
			return err
		}
		if err := c.populateObject(sub, item); err != nil {
			return err
		}
	}
	return nil
}

// NewValue creates one item for a list property. An empty name gets
// an auto-generated one.
func (c *Connection) NewValue(lp *node.ListProperty, name string) (*node.ObjectProperty, error) {
	vs := lp.ValueSchema()
	if vs == nil {
		return nil, capsuled.ErrSchema.New(
			"list property %q has no value schema", lp.Name())
	}
	if name == "" {
		name = fmt.Sprintf("item%d", c.nextTmp)
	}
	item := node.NewObjectProperty(name, vs)
	c.registerAdded(item, lp)
	return item, nil
}

// CreateChild instantiates the class for a type and registers it as a
// child of parent.
func (c *Connection) CreateChild(parent node.Node, name, typeName string) (node.Node, error) {
	s := c.reg.GetSchema(typeName)
	kind, ok := c.reg.GetClass(typeName)
	if !ok {
		return nil, capsuled.ErrSchema.New("unknown node type %q", typeName)
	}
	if s == nil {
		return nil, capsuled.ErrSchema.New("no schema for node type %q", typeName)
	}
	var child node.Node
	switch kind {
	case schema.ClassDocument:
		child = node.NewDocument(name, s)
	case schema.ClassChildren:
		child = node.NewChildren(name, s)
	case schema.ClassListProperty:
		child = node.NewListProperty(name, s, c.listValueSchema(s))
	case schema.ClassObjectProperty:
		child = node.NewObjectProperty(name, s)
	default:
		return nil, capsuled.ErrSchema.New(
			"cannot create node of type %q", typeName)
	}
	c.registerAdded(child, parent)
	return child, nil
}

// DeleteNode queues removal of a node and flushes immediately.
func (c *Connection) DeleteNode(n node.Node) error {
	c.removed = append(c.removed, n.Id())
	err := c.Savepoint()
	return err
}

// ReorderChildren derives the minimal insert-before sequence turning
// old into new and flushes it. Equal orders are a no-op.
func (c *Connection) ReorderChildren(n node.Node, old, new []string) error {
	inserts, err := findInserts(old, new)
	if err != nil {
		return err
	}
	if len(inserts) == 0 {
		return nil
	}
	c.reorders = append(c.reorders, rpc.Reorder{Id: n.Id(), Inserts: inserts})
	err = c.Savepoint()
	return err
}

// Checkin flushes, checkpoints the node and ghostifies it so the
// updated system properties reload on next access.
func (c *Connection) Checkin(n node.Node) error {
	if err := c.Savepoint(); err != nil {
		return err
	}
	if err := c.ctrl.Checkpoint(n.Id()); err != nil {
		return err
	}
	c.cache.Invalidate(n.Id())
	return nil
}

// Checkout flushes, reopens the node and ghostifies it.
func (c *Connection) Checkout(n node.Node) error {
	if err := c.Savepoint(); err != nil {
		return err
	}
	if err := c.ctrl.Checkout(n.Id()); err != nil {
		return err
	}
	c.cache.Invalidate(n.Id())
	return nil
}

// Restore flushes, restores the node to a named version and
// invalidates every cache entry the server reports stale.
func (c *Connection) Restore(n node.Node, version string) error {
	if err := c.Savepoint(); err != nil {
		return err
	}
	stale, err := c.ctrl.Restore(n.Id(), version)
	if err != nil {
		return err
	}
	c.cache.Invalidate(n.Id())
	for _, id := range stale {
		c.cache.Invalidate(id)
	}
	return nil
}

// CacheGC reduces the loaded cache size toward its target,
// ghostifying cold clean objects. Dirty objects are pinned.
func (c *Connection) CacheGC() {
	c.cache.IncrGC(func(id data.Id) bool {
		_, dirty := c.registered[id]
		return dirty
	})
}

// CacheLen reports the identity map size, for diagnostics.
func (c *Connection) CacheLen() int { return c.cache.Len() }

// ExportFile and ImportFile are explicitly unimplemented.
func (c *Connection) ExportFile(id data.Id) error {
	return capsuled.ErrUnsupported.New("ExportFile")
}

func (c *Connection) ImportFile(id data.Id) error {
	return capsuled.ErrUnsupported.New("ImportFile")
}
