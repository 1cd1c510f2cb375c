// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package node

import (
	"testing"

	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/schema"
	"github.com/stretchr/testify/require"
)

func docSchema() *schema.Schema {
	s := schema.New("ecmdt:memo", false, false)
	s.AddProperty(&schema.PropertyField{Name: "title", Kind: data.KindString})
	return s
}

func TestNoChildrenYet(t *testing.T) {
	d := NewDocument("memo", docSchema())
	holder, err := d.ChildrenHolder()
	require.NoError(t, err)
	ncy, ok := holder.(*NoChildrenYet)
	require.True(t, ok)

	require.Empty(t, ncy.Keys())
	require.Equal(t, 0, ncy.Len())
	require.False(t, ncy.HasChild("x"))
	_, err = ncy.Child("x")
	require.Error(t, err)
	require.Error(t, ncy.RemoveChild("x"))
	require.NoError(t, ncy.Reorder(nil))
	require.Error(t, ncy.Reorder([]string{"x"}))
	require.Equal(t, ChildrenSlot, ncy.Name())
	require.Same(t, d, ncy.Parent().(*Document))
}

func TestDocumentWithoutChildrenReads(t *testing.T) {
	d := NewDocument("memo", docSchema())
	keys, err := d.Keys()
	require.NoError(t, err)
	require.Empty(t, keys)
	has, err := d.HasChild("x")
	require.NoError(t, err)
	require.False(t, has)
	_, err = d.Child("x")
	require.Error(t, err)
}

func TestObjectStateOrder(t *testing.T) {
	o := NewObjectProperty("name", docSchema())
	o.StoreValue("b", data.String("1"))
	o.StoreValue("a", data.String("2"))
	o.StoreValue("b", data.String("3")) // overwrite keeps position

	names, err := o.PropertyNames()
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, names)

	p, ok, err := o.Property("b")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, data.Equal(data.String("3"), p.Value))

	o.DropProp("b")
	names, err = o.PropertyNames()
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, names)
}

func TestGhostifyDropsState(t *testing.T) {
	o := NewObjectProperty("name", docSchema())
	o.StoreValue("a", data.String("x"))
	require.False(t, o.IsGhost())
	o.Ghostify()
	require.True(t, o.IsGhost())

	// With no jar, activation degrades to an empty object.
	names, err := o.PropertyNames()
	require.NoError(t, err)
	require.Empty(t, names)
	require.False(t, o.IsGhost())
}

func TestIsCheckedOutDefaultsTrue(t *testing.T) {
	d := NewDocument("memo", docSchema())
	out, err := d.IsCheckedOut()
	require.NoError(t, err)
	require.True(t, out)

	d.StoreValue("jcr:isCheckedOut", data.Bool(false))
	out, err = d.IsCheckedOut()
	require.NoError(t, err)
	require.False(t, out)
}

func TestContainerOrderTracking(t *testing.T) {
	s := schema.New("ecmnt:children", true, false)
	c := NewChildren(ChildrenSlot, s)
	a := NewObjectProperty("a", docSchema())
	b := NewObjectProperty("b", docSchema())
	c.PutChild("a", a)
	c.PutChild("b", b)

	keys, err := c.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, keys)

	c.DropChild("a")
	keys, err = c.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, keys)

	got, err := c.Child("b")
	require.NoError(t, err)
	require.Same(t, b, got.(*ObjectProperty))
}

func TestPathDiagnostics(t *testing.T) {
	root := NewDocument("", docSchema())
	child := NewDocument("child", docSchema())
	child.SetParent(root)
	require.Equal(t, "/child", Path(child))
}
