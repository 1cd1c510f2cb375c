// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server_test

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/client"
	"github.com/capsule/capsuled/cnd"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/db"
	"github.com/capsule/capsuled/node"
	"github.com/capsule/capsuled/server"
	"github.com/capsule/capsuled/session"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()
	store, err := server.OpenStore(filepath.Join(t.TempDir(), "nodes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	srv := server.NewSrv(listener, store, log)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return listener.Addr().String()
}

func dial(t *testing.T, addr string) *client.Controller {
	t.Helper()
	ctrl, err := client.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })
	return ctrl
}

func openDB(t *testing.T, addr string) *db.DB {
	t.Helper()
	cfg := capsuled.Config{
		Network:   "tcp",
		Address:   addr,
		Workspace: "main",
		CacheSize: 100,
		PoolSize:  2,
	}
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	database := db.Open(cfg, log)
	t.Cleanup(database.Close)
	return database
}

func TestLoginStableRoot(t *testing.T) {
	addr := startServer(t)

	c1 := dial(t, addr)
	root1, err := c1.Login("main")
	require.NoError(t, err)
	require.NotEmpty(t, root1)

	c2 := dial(t, addr)
	root2, err := c2.Login("main")
	require.NoError(t, err)
	require.Equal(t, root1, root2, "workspace root is stable across logins")

	c3 := dial(t, addr)
	other, err := c3.Login("other")
	require.NoError(t, err)
	require.NotEqual(t, root1, other, "workspaces have distinct roots")
}

func TestTypeDefsCompile(t *testing.T) {
	addr := startServer(t)
	c := dial(t, addr)
	_, err := c.Login("main")
	require.NoError(t, err)

	defs, err := c.GetNodeTypeDefs()
	require.NoError(t, err)
	compiler := cnd.NewCompiler()
	names, err := compiler.AddData(defs)
	require.NoError(t, err)
	require.Contains(t, names, "ecmnt:document")
	require.Contains(t, names, "ecmdt:tripreport")
}

func TestEndToEndAddFetch(t *testing.T) {
	addr := startServer(t)
	database := openDB(t, addr)

	conn, err := database.OpenSession()
	require.NoError(t, err)
	root, err := conn.Root()
	require.NoError(t, err)

	child, err := conn.CreateChild(root, "report", "ecmdt:tripreport")
	require.NoError(t, err)
	doc := child.(*node.Document)
	require.NoError(t, doc.SetProperty("dc:title", data.String("hello")))
	require.NoError(t, doc.SetProperty("cities", data.Multi{
		data.String("Paris"), data.String("Lyon"),
	}))

	require.NoError(t, conn.Commit())
	require.NoError(t, conn.TPCVote())
	conn.TPCFinish()
	require.False(t, doc.Id().IsTemp())

	// A second session sees the committed state.
	conn2, err := database.OpenSession()
	require.NoError(t, err)
	n, err := conn2.Get(doc.Id(), "")
	require.NoError(t, err)
	doc2 := n.(*node.Document)
	title, err := doc2.GetValue("dc:title")
	require.NoError(t, err)
	require.True(t, data.Equal(data.String("hello"), title))

	p, ok, err := doc2.Property("cities")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, data.Equal(
		data.Multi{data.String("Paris"), data.String("Lyon")}, p.Value))
}

func TestEndToEndConflict(t *testing.T) {
	addr := startServer(t)
	database := openDB(t, addr)

	// Seed one committed document.
	setup, err := database.OpenSession()
	require.NoError(t, err)
	root, err := setup.Root()
	require.NoError(t, err)
	seeded, err := setup.CreateChild(root, "doc", "ecmdt:tripreport")
	require.NoError(t, err)
	require.NoError(t, seeded.(*node.Document).SetProperty("dc:title", data.String("v0")))
	require.NoError(t, setup.Commit())
	require.NoError(t, setup.TPCVote())
	setup.TPCFinish()
	id := seeded.Id()

	s1, err := database.OpenSession()
	require.NoError(t, err)
	s2, err := database.OpenSession()
	require.NoError(t, err)

	// Both sessions load the same node before either commits.
	n1, err := s1.Get(id, "")
	require.NoError(t, err)
	d1 := n1.(*node.Document)
	_, _, err = d1.Property("dc:title")
	require.NoError(t, err)

	n2, err := s2.Get(id, "")
	require.NoError(t, err)
	d2 := n2.(*node.Document)
	_, _, err = d2.Property("dc:title")
	require.NoError(t, err)

	// First writer wins.
	require.NoError(t, d1.SetProperty("dc:title", data.String("first")))
	require.NoError(t, s1.Commit())
	require.NoError(t, s1.TPCVote())
	s1.TPCFinish()

	// Second writer conflicts at prepare.
	require.NoError(t, d2.SetProperty("dc:title", data.String("second")))
	err = s2.Commit()
	require.Error(t, err)
	require.True(t, capsuled.ErrConflict.Has(err))

	require.NoError(t, s2.Abort())
	require.True(t, d2.IsGhost())

	// The reload sees the winner.
	p, _, err := d2.Property("dc:title")
	require.NoError(t, err)
	require.True(t, data.Equal(data.String("first"), p.Value))
}

func TestEndToEndRemoveAndReorder(t *testing.T) {
	addr := startServer(t)
	database := openDB(t, addr)

	conn, err := database.OpenSession()
	require.NoError(t, err)
	root, err := conn.Root()
	require.NoError(t, err)

	folderNode, err := conn.CreateChild(root, "folder", "ecmnt:folder")
	require.NoError(t, err)
	folder := folderNode.(*node.Document)
	for _, name := range []string{"a", "b", "c", "d"} {
		_, err := folder.AddChild(name, "ecmdt:tripreport")
		require.NoError(t, err)
	}
	require.NoError(t, conn.Savepoint())

	holder, err := folder.ChildrenHolder()
	require.NoError(t, err)
	children := holder.(*node.Children)
	require.NoError(t, children.Reorder([]string{"c", "d", "a", "b"}))

	keys, err := children.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d", "a", "b"}, keys)

	require.NoError(t, children.RemoveChild("a"))
	require.NoError(t, conn.Commit())
	require.NoError(t, conn.TPCVote())
	conn.TPCFinish()

	// Fresh session, fresh state.
	conn2, err := database.OpenSession()
	require.NoError(t, err)
	n, err := conn2.Get(children.Id(), "")
	require.NoError(t, err)
	keys, err = n.(*node.Children).Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d", "b"}, keys)
}

func TestEndToEndVersioning(t *testing.T) {
	addr := startServer(t)
	database := openDB(t, addr)

	conn, err := database.OpenSession()
	require.NoError(t, err)
	root, err := conn.Root()
	require.NoError(t, err)
	child, err := conn.CreateChild(root, "doc", "ecmdt:tripreport")
	require.NoError(t, err)
	doc := child.(*node.Document)
	require.NoError(t, doc.SetProperty("dc:title", data.String("v1")))
	require.NoError(t, conn.Savepoint())

	require.NoError(t, doc.Checkin())
	out, err := doc.IsCheckedOut()
	require.NoError(t, err)
	require.False(t, out)

	require.NoError(t, doc.Checkout())
	out, err = doc.IsCheckedOut()
	require.NoError(t, err)
	require.True(t, out)

	// Change and restore to the checked-in version.
	require.NoError(t, doc.SetProperty("dc:title", data.String("v2")))
	require.NoError(t, conn.Restore(doc, ""))
	p, _, err := doc.Property("dc:title")
	require.NoError(t, err)
	require.True(t, data.Equal(data.String("v1"), p.Value))
}

func TestEndToEndPathAndSearch(t *testing.T) {
	addr := startServer(t)
	database := openDB(t, addr)

	conn, err := database.OpenSession()
	require.NoError(t, err)
	root, err := conn.Root()
	require.NoError(t, err)
	child, err := conn.CreateChild(root, "report", "ecmdt:tripreport")
	require.NoError(t, err)
	doc := child.(*node.Document)
	require.NoError(t, doc.SetProperty("dc:title", data.String("needle")))
	require.NoError(t, conn.Commit())
	require.NoError(t, conn.TPCVote())
	conn.TPCFinish()

	ctrl := conn.Controller().(*client.Controller)
	path, err := ctrl.GetPath(doc.Id())
	require.NoError(t, err)
	require.Equal(t, "/report", path)

	hits, err := ctrl.SearchProperty("dc:title", "needle")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, doc.Id(), hits[0].Id)
	require.Equal(t, "/report", hits[0].Path)

	_, err = ctrl.GetPath("nonexistent")
	require.Error(t, err)
	require.True(t, capsuled.ErrNotFound.Has(err))
}

var _ session.Controller = (*client.Controller)(nil)
