// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session_test

import (
	"testing"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/db"
	"github.com/capsule/capsuled/node"
	"github.com/capsule/capsuled/rpc"
	"github.com/capsule/capsuled/server"
	. "github.com/capsule/capsuled/session"
	"github.com/capsule/capsuled/session/sessiontest"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T) (*sessiontest.FakeController, *Connection) {
	t.Helper()
	fake := sessiontest.New(server.NodeTypeDefs)
	database := db.OpenWith(
		capsuled.Config{Workspace: "main", CacheSize: 100},
		capsuled.NewContext(nil),
		func() (Controller, error) { return fake, nil },
	)
	conn, err := database.OpenSession()
	require.NoError(t, err)
	return fake, conn
}

func TestRootFetch(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "child-0", "foo", "ecmdt:tripreport", nil)

	root, err := conn.Root()
	require.NoError(t, err)
	ws, ok := root.(*node.Workspace)
	require.True(t, ok)
	require.True(t, ws.IsGhost())

	// First access loads the state; the child arrives as a ghost.
	prop, ok, err := ws.Property("foo")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, prop.IsComplex())
	require.Equal(t, data.Id("child-0"), prop.Complex.Id())
	require.True(t, prop.Complex.IsGhost())
	require.False(t, ws.IsGhost())
}

func TestIdentityMap(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport", nil)

	a, err := conn.Get("doc-1", "ecmdt:tripreport")
	require.NoError(t, err)
	b, err := conn.Get("doc-1", "")
	require.NoError(t, err)
	require.Same(t, a, b)
}

func TestAddSetCommit(t *testing.T) {
	fake, conn := newFixture(t)
	root, err := conn.Root()
	require.NoError(t, err)

	child, err := conn.CreateChild(root, "foo", "ecmdt:tripreport")
	require.NoError(t, err)
	doc := child.(*node.Document)
	require.True(t, doc.Id().IsTemp())

	require.NoError(t, doc.SetProperty("dc:title", data.String("hi")))
	require.NoError(t, conn.Commit())
	require.Equal(t, 1, fake.Prepares)

	// The save stream opens with the single add carrying the simple
	// property.
	sent := fake.LastSent()
	require.NotEmpty(t, sent)
	add, ok := sent[0].(rpc.Add)
	require.True(t, ok)
	require.Equal(t, sessiontest.RootId, add.Parent)
	require.Equal(t, "ecmdt:tripreport", add.Type)
	require.Equal(t, data.Id("T1"), add.Token)
	require.Equal(t, "foo", add.Name)
	require.Equal(t, []rpc.Prop{{Name: "dc:title", Value: data.String("hi")}}, add.Props)

	// The new object now lives in the cache under its permanent id.
	require.Equal(t, data.Id("cafe-0001"), doc.Id())
	got, err := conn.Get("cafe-0001", "")
	require.NoError(t, err)
	require.Same(t, doc, got.(*node.Document))
	require.False(t, doc.Changed())
}

func TestTempIdRemapNested(t *testing.T) {
	fake, conn := newFixture(t)
	root, err := conn.Root()
	require.NoError(t, err)

	folder, err := conn.CreateChild(root, "f", "ecmnt:folder")
	require.NoError(t, err)
	inner, err := conn.CreateChild(folder, "doc", "ecmdt:tripreport")
	require.NoError(t, err)

	require.NoError(t, conn.Savepoint())

	sent := fake.LastSent()
	require.Len(t, sent, 3) // two adds + empty modify of the root
	first := sent[0].(rpc.Add)
	second := sent[1].(rpc.Add)
	// The nested add names its parent by the earlier token.
	require.Equal(t, first.Token, second.Parent)

	require.False(t, folder.Id().IsTemp())
	require.False(t, inner.Id().IsTemp())
	require.Equal(t, folder.Id(), fake.Nodes[inner.Id()].Parent)

	// Both reachable by permanent id, and identity is preserved.
	got, err := conn.Get(inner.Id(), "")
	require.NoError(t, err)
	require.Same(t, inner, got.(*node.Document))
}

func TestModifyCachedObject(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport",
		map[string]data.Value{"dc:title": data.String("old")})

	n, err := conn.Get("doc-1", "")
	require.NoError(t, err)
	doc := n.(*node.Document)
	require.NoError(t, doc.SetProperty("dc:title", data.String("new")))
	require.NoError(t, doc.SetProperty("dc:description", data.String("d")))

	require.NoError(t, conn.Savepoint())
	sent := fake.LastSent()
	require.Len(t, sent, 1)
	mod := sent[0].(rpc.Modify)
	require.Equal(t, data.Id("doc-1"), mod.Id)
	require.Equal(t, []rpc.Prop{
		{Name: "dc:description", Value: data.String("d")},
		{Name: "dc:title", Value: data.String("new")},
	}, mod.Props)
	require.True(t, data.Equal(data.String("new"),
		fake.Nodes["doc-1"].Props["dc:title"]))
}

func TestDeleteProperty(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport",
		map[string]data.Value{"dc:title": data.String("old")})

	n, err := conn.Get("doc-1", "")
	require.NoError(t, err)
	doc := n.(*node.Document)
	require.NoError(t, doc.SetProperty("dc:title", nil))
	require.NoError(t, conn.Savepoint())

	mod := fake.LastSent()[0].(rpc.Modify)
	require.Equal(t, []rpc.Prop{{Name: "dc:title"}}, mod.Props)
	_, ok := fake.Nodes["doc-1"].Props["dc:title"]
	require.False(t, ok)
}

func TestSetPropertyUsageErrors(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport", nil)
	fake.AddNode("doc-1", "name-1", "username", "ecmst:name", nil)

	n, err := conn.Get("doc-1", "")
	require.NoError(t, err)
	doc := n.(*node.Document)

	// Absent from the schema.
	err = doc.SetProperty("nonsense", data.String("x"))
	require.Error(t, err)
	require.True(t, capsuled.ErrSchema.Has(err))

	// Replacing a complex property with a scalar.
	err = doc.SetProperty("username", data.String("x"))
	require.Error(t, err)
	require.True(t, capsuled.ErrSchema.Has(err))

	// No state was queued by the failed writes.
	require.NoError(t, conn.Savepoint())
	require.Empty(t, fake.LastSent())
}

func TestCreateComplexProperty(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport", nil)

	n, err := conn.Get("doc-1", "")
	require.NoError(t, err)
	doc := n.(*node.Document)
	require.NoError(t, doc.SetProperty("username", map[string]data.Value{
		"firstname": data.String("Flo"),
		"lastname":  data.String("G"),
	}))

	prop, ok, err := doc.Property("username")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, prop.IsComplex())

	require.NoError(t, conn.Savepoint())
	add := fake.LastSent()[0].(rpc.Add)
	require.Equal(t, data.Id("doc-1"), add.Parent)
	require.Equal(t, "ecmst:name", add.Type)
	require.Equal(t, "username", add.Name)
	require.Equal(t, []rpc.Prop{
		{Name: "firstname", Value: data.String("Flo")},
		{Name: "lastname", Value: data.String("G")},
	}, add.Props)
}

func TestCreateListProperty(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport", nil)

	n, err := conn.Get("doc-1", "")
	require.NoError(t, err)
	doc := n.(*node.Document)
	require.NoError(t, doc.SetProperty("childrennames", []map[string]data.Value{
		{"firstname": data.String("a")},
		{"firstname": data.String("b")},
	}))
	require.NoError(t, conn.Savepoint())

	sent := fake.LastSent()
	list := sent[0].(rpc.Add)
	require.Equal(t, "ecmst:names", list.Type)
	item1 := sent[1].(rpc.Add)
	item2 := sent[2].(rpc.Add)
	require.Equal(t, list.Token, item1.Parent)
	require.Equal(t, list.Token, item2.Parent)
	require.Equal(t, "ecmst:name", item1.Type)

	prop, ok, err := doc.Property("childrennames")
	require.NoError(t, err)
	require.True(t, ok)
	lp := prop.Complex.(*node.ListProperty)
	values, err := lp.Values()
	require.NoError(t, err)
	require.Len(t, values, 2)
}

func TestListPropertyFabricationFromSiblings(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport", nil)
	fake.AddNode("doc-1", "kid-1", "childrennames", "ecmst:name",
		map[string]data.Value{"firstname": data.String("a")})
	fake.AddNode("doc-1", "kid-2", "childrennames", "ecmst:name",
		map[string]data.Value{"firstname": data.String("b")})

	n, err := conn.Get("doc-1", "")
	require.NoError(t, err)
	doc := n.(*node.Document)

	prop, ok, err := doc.Property("childrennames")
	require.NoError(t, err)
	require.True(t, ok)
	lp, isList := prop.Complex.(*node.ListProperty)
	require.True(t, isList)

	requests := len(fake.StateRequests)
	keys, err := lp.Keys()
	require.NoError(t, err)
	require.Len(t, keys, 2)
	// The pre-seeded pending state made activation free.
	require.Len(t, fake.StateRequests, requests)

	values, err := lp.Values()
	require.NoError(t, err)
	require.Equal(t, data.Id("kid-1"), values[0].Id())
	require.Equal(t, data.Id("kid-2"), values[1].Id())
}

func TestDeleteNode(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport", nil)
	fake.AddNode("doc-1", "name-1", "username", "ecmst:name", nil)

	n, err := conn.Get("name-1", "")
	require.NoError(t, err)
	require.NoError(t, conn.DeleteNode(n))

	sent := fake.LastSent()
	require.Equal(t, rpc.Remove{Id: "name-1"}, sent[len(sent)-1])
	_, exists := fake.Nodes["name-1"]
	require.False(t, exists)
}

func TestReorderChildren(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "holder-1", node.ChildrenSlot, "ecmnt:children", nil)
	for _, name := range []string{"a", "b", "c", "d"} {
		fake.AddNode("holder-1", data.Id("doc-"+name), name, "ecmdt:tripreport", nil)
	}

	n, err := conn.Get("holder-1", "")
	require.NoError(t, err)
	holder := n.(*node.Children)
	require.NoError(t, holder.Reorder([]string{"c", "d", "a", "b"}))

	sent := fake.LastSent()
	ro := sent[len(sent)-1].(rpc.Reorder)
	require.Equal(t, data.Id("holder-1"), ro.Id)
	require.Equal(t, []rpc.Insert{
		{Name: "c", Before: "a"},
		{Name: "d", Before: "a"},
	}, ro.Inserts)

	var got []string
	for _, c := range fake.Nodes["holder-1"].Children {
		got = append(got, c.Name)
	}
	require.Equal(t, []string{"c", "d", "a", "b"}, got)

	keys, err := holder.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d", "a", "b"}, keys)
}

func TestReorderEqualIsNoop(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "holder-1", node.ChildrenSlot, "ecmnt:children", nil)
	fake.AddNode("holder-1", "doc-a", "a", "ecmdt:tripreport", nil)

	n, err := conn.Get("holder-1", "")
	require.NoError(t, err)
	holder := n.(*node.Children)
	require.NoError(t, holder.Reorder([]string{"a"}))
	require.Empty(t, fake.Sent)
}

func TestDirtyGuard(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport", nil)

	n, err := conn.Get("doc-1", "")
	require.NoError(t, err)
	doc := n.(*node.Document)
	_, _, err = doc.Property("dc:title")
	require.NoError(t, err)

	// A write outside the session API marks the object changed but
	// poisons the registration.
	doc.MarkChanged()

	err = conn.Savepoint()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown property changed")
	require.Empty(t, fake.Sent, "the poisoned save must not reach the wire")
}

func TestAbortIsolation(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport",
		map[string]data.Value{"dc:title": data.String("old")})

	root, err := conn.Root()
	require.NoError(t, err)

	added, err := conn.CreateChild(root, "fresh", "ecmdt:tripreport")
	require.NoError(t, err)

	n, err := conn.Get("doc-1", "")
	require.NoError(t, err)
	doc := n.(*node.Document)
	require.NoError(t, doc.SetProperty("dc:title", data.String("new")))

	require.NoError(t, conn.Abort())
	require.Equal(t, 1, fake.Aborts)

	// The added object is disowned.
	require.Nil(t, added.Jar())
	require.Equal(t, data.Id(""), added.Id())

	// The modified cached object reverted to a ghost.
	require.True(t, doc.IsGhost())
	p, _, err := doc.Property("dc:title")
	require.NoError(t, err)
	require.True(t, data.Equal(data.String("old"), p.Value))
}

func TestAbortPurgesCreated(t *testing.T) {
	fake, conn := newFixture(t)
	root, err := conn.Root()
	require.NoError(t, err)
	child, err := conn.CreateChild(root, "fresh", "ecmdt:tripreport")
	require.NoError(t, err)
	require.NoError(t, conn.Savepoint())
	oid := child.Id()
	require.False(t, oid.IsTemp())

	require.NoError(t, conn.Abort())
	require.Nil(t, child.Jar())
	_ = fake
}

func TestConflictOnPrepare(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport", nil)
	fake.PrepareErr = capsuled.ErrConflict.New("node 'doc-1' has been modified externally")

	n, err := conn.Get("doc-1", "")
	require.NoError(t, err)
	doc := n.(*node.Document)
	require.NoError(t, doc.SetProperty("dc:title", data.String("mine")))

	err = conn.Commit()
	require.Error(t, err)
	require.True(t, capsuled.ErrConflict.Has(err))

	require.NoError(t, conn.Abort())
	require.True(t, doc.IsGhost())
}

func TestCheckinCheckout(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport", nil)

	n, err := conn.Get("doc-1", "")
	require.NoError(t, err)
	doc := n.(*node.Document)

	out, err := doc.IsCheckedOut()
	require.NoError(t, err)
	require.True(t, out)

	require.NoError(t, doc.Checkin())
	require.Equal(t, []data.Id{"doc-1"}, fake.Checkpoints)
	require.True(t, doc.IsGhost(), "checkin must ghostify")

	out, err = doc.IsCheckedOut()
	require.NoError(t, err)
	require.False(t, out, "reload sees the updated system property")

	require.NoError(t, doc.Checkout())
	require.True(t, doc.IsGhost())
	out, err = doc.IsCheckedOut()
	require.NoError(t, err)
	require.True(t, out)
}

func TestAddChildMaterializesHolder(t *testing.T) {
	fake, conn := newFixture(t)
	fake.AddNode(sessiontest.RootId, "doc-1", "report", "ecmdt:tripreport", nil)

	n, err := conn.Get("doc-1", "")
	require.NoError(t, err)
	doc := n.(*node.Document)

	child, err := doc.AddChild("sub", "ecmdt:tripreport")
	require.NoError(t, err)
	require.NoError(t, conn.Savepoint())

	sent := fake.LastSent()
	holderAdd := sent[0].(rpc.Add)
	require.Equal(t, node.ChildrenTypeName, holderAdd.Type)
	require.Equal(t, node.ChildrenSlot, holderAdd.Name)
	require.Equal(t, data.Id("doc-1"), holderAdd.Parent)
	childAdd := sent[1].(rpc.Add)
	require.Equal(t, holderAdd.Token, childAdd.Parent)
	require.Equal(t, "sub", childAdd.Name)

	// A second add reuses the holder.
	_, err = doc.AddChild("sub2", "ecmdt:tripreport")
	require.NoError(t, err)
	require.NoError(t, conn.Savepoint())
	sent = fake.LastSent()
	add := sent[0].(rpc.Add)
	require.Equal(t, "sub2", add.Name)
	require.False(t, add.Parent.IsTemp())

	// Duplicate names are rejected.
	_, err = doc.AddChild("sub", "ecmdt:tripreport")
	require.Error(t, err)
	_ = child
}

func TestCacheGCGhostifiesCold(t *testing.T) {
	fake := sessiontest.New(server.NodeTypeDefs)
	database := db.OpenWith(
		capsuled.Config{Workspace: "main", CacheSize: 2},
		capsuled.NewContext(nil),
		func() (Controller, error) { return fake, nil },
	)
	conn, err := database.OpenSession()
	require.NoError(t, err)

	var docs []*node.Document
	for _, id := range []data.Id{"d1", "d2", "d3", "d4"} {
		fake.AddNode(sessiontest.RootId, id, string(id), "ecmdt:tripreport", nil)
		n, err := conn.Get(id, "ecmdt:tripreport")
		require.NoError(t, err)
		doc := n.(*node.Document)
		_, _, err = doc.Property("dc:title") // load
		require.NoError(t, err)
		docs = append(docs, doc)
	}

	conn.CacheGC()
	ghosts := 0
	for _, doc := range docs {
		if doc.IsGhost() {
			ghosts++
		}
	}
	require.Equal(t, 2, ghosts)
}

func TestExportImportUnsupported(t *testing.T) {
	_, conn := newFixture(t)
	require.True(t, capsuled.ErrUnsupported.Has(conn.ExportFile("x")))
	require.True(t, capsuled.ErrUnsupported.Has(conn.ImportFile("x")))
}
