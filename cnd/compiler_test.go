// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package cnd

import (
	"testing"

	"github.com/capsule/capsuled/data"
	"github.com/stretchr/testify/require"
)

const testDefs = `
<ecm='http://nuxeo.org/ecm/jcr/names'>
<ecmnt='http://nuxeo.org/ecm/jcr/types'>
<ecmst='http://nuxeo.org/ecm/jcr/schemas'>
<ecmdt='http://nuxeo.org/ecm/jcr/docs'>
<dc='http://purl.org/dc/elements/1.1/'>

[ecmnt:schema]

[ecmnt:document]

[ecmnt:folder] > ecmnt:document
  + * (ecmnt:document)

[ecmst:dublincore] > ecmnt:schema
  - dc:title
  - dc:description (string)

[ecmst:name] > ecmnt:schema
  - firstname (string)
  - lastname (string)

[ecmst:names] orderable
  + * (ecmst:name)

[ecmst:tripreport] > ecmnt:schema
  - duedate (date)
  - cities (string) multiple
  + username (ecmst:name)
  + childrennames (ecmst:names)

[ecmdt:tripreport] > ecmnt:document, ecmst:tripreport, ecmst:dublincore
`

func compileDefs(t *testing.T, src string) *Compiler {
	t.Helper()
	c := NewCompiler()
	_, err := c.AddData(src)
	require.NoError(t, err)
	return c
}

func TestCompileBasics(t *testing.T) {
	c := compileDefs(t, testDefs)

	folder := c.Schema("ecmnt:folder")
	require.NotNil(t, folder)
	require.True(t, folder.IsContainer())
	require.True(t, folder.Extends("ecmnt:document"))
	require.Equal(t, []string{"ecmnt:document"}, folder.ItemTypes())

	dc := c.Schema("ecmst:dublincore")
	require.NotNil(t, dc)
	require.False(t, dc.IsContainer())
	title := dc.Property("dc:title")
	require.NotNil(t, title)
	require.Equal(t, data.KindString, title.Kind)
	require.False(t, title.Multiple)

	report := c.Schema("ecmst:tripreport")
	require.Equal(t, data.KindDate, report.Property("duedate").Kind)
	cities := report.Property("cities")
	require.True(t, cities.Multiple)
	require.Equal(t, data.KindString, cities.Kind)
}

func TestCompileChildFields(t *testing.T) {
	c := compileDefs(t, testDefs)
	report := c.Schema("ecmst:tripreport")

	username := report.Child("username")
	require.NotNil(t, username)
	require.False(t, username.List)
	require.Equal(t, "ecmst:name", username.TypeName)

	names := report.Child("childrennames")
	require.NotNil(t, names)
	require.True(t, names.List)
	require.Equal(t, "ecmst:names", names.TypeName)
	require.Equal(t, "ecmst:name", names.ItemType)
}

func TestCompileFlattensSupertypes(t *testing.T) {
	c := compileDefs(t, testDefs)
	doc := c.Schema("ecmdt:tripreport")
	require.NotNil(t, doc)
	require.True(t, doc.Extends("ecmnt:document"))
	require.True(t, doc.Extends("ecmst:tripreport"))
	require.NotNil(t, doc.Property("dc:title"))
	require.NotNil(t, doc.Property("duedate"))
	require.NotNil(t, doc.Child("username"))
	require.False(t, doc.IsContainer())
}

func TestCompileContainerPrecondition(t *testing.T) {
	c := compileDefs(t, testDefs)
	folder := c.Schema("ecmnt:folder")
	doc := c.Schema("ecmdt:tripreport")
	name := c.Schema("ecmst:name")
	require.True(t, folder.AllowsItem(doc))
	require.False(t, folder.AllowsItem(name))

	names := c.Schema("ecmst:names")
	require.True(t, names.AllowsItem(name))
	require.False(t, names.AllowsItem(doc))
}

func TestCompileWildcardWithoutTypesAdmitsAny(t *testing.T) {
	c := compileDefs(t, `
[any:container] orderable
  + *
[plain:thing]
`)
	cont := c.Schema("any:container")
	require.True(t, cont.IsContainer())
	require.True(t, cont.AnyItem())
	require.True(t, cont.AllowsItem(c.Schema("plain:thing")))
}

func TestCompileIncremental(t *testing.T) {
	c := compileDefs(t, testDefs)
	added, err := c.AddData(`
[ecmdt:memo] > ecmnt:document, ecmst:dublincore
  - body (string)
`)
	require.NoError(t, err)
	require.Equal(t, []string{"ecmdt:memo"}, added)
	memo := c.Schema("ecmdt:memo")
	require.NotNil(t, memo.Property("dc:title"))
	require.NotNil(t, memo.Property("body"))

	// Identical redefinition is tolerated.
	_, err = c.AddData(`
[ecmdt:memo] > ecmnt:document, ecmst:dublincore
  - body (string)
`)
	require.NoError(t, err)

	// Conflicting redefinition is not.
	_, err = c.AddData(`
[ecmdt:memo] > ecmnt:document
  - body (long)
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "redefined")
}

func TestCompileNamespaceRedefinition(t *testing.T) {
	c := compileDefs(t, `<ecm='http://nuxeo.org/ecm/jcr/names'>`)
	_, err := c.AddData(`<ecm='http://nuxeo.org/ecm/jcr/names'>`)
	require.NoError(t, err)
	_, err = c.AddData(`<ecm='http://elsewhere.example/ns'>`)
	require.Error(t, err)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "in-batch duplicate definition",
			src:  "[t:a]\n[t:a]",
			want: "redefined",
		},
		{
			name: "wildcard property",
			src:  "[t:bad]\n  - * (string)",
			want: "* properties are disallowed",
		},
		{
			name: "multiple wildcard child",
			src:  "[t:bad]\n  + * multiple",
			want: "multiple * child nodes",
		},
		{
			name: "same-name sibling child",
			src:  "[t:other]\n[t:bad]\n  + sub (t:other) multiple",
			want: "same-name siblings",
		},
		{
			name: "two required types on wildcard",
			src:  "[t:a]\n[t:b]\n[t:bad]\n  + * (t:a, t:b)",
			want: "more than one required type",
		},
		{
			name: "two required types on child",
			src:  "[t:a]\n[t:b]\n[t:bad]\n  + sub (t:a, t:b)",
			want: "more than one required type",
		},
		{
			name: "unknown property type",
			src:  "[t:bad]\n  - prop (frobnicate)",
			want: "unknown property type",
		},
		{
			name: "unknown wildcard item type",
			src:  "[t:bad]\n  + * (t:missing)",
			want: "unknown type t:missing",
		},
		{
			name: "missing supertype",
			src:  "[t:bad] > t:missing",
			want: "Missing dependent",
		},
		{
			name: "supertype loop",
			src:  "[t:a] > t:b\n[t:b] > t:a",
			want: "Loop involving 't:a', 't:b'",
		},
		{
			name: "autocreated property",
			src:  "[t:bad]\n  - prop (string) autocreated",
			want: "autocreated",
		},
		{
			name: "default primary type",
			src:  "[t:other]\n[t:bad]\n  + sub (t:other) = t:other",
			want: "default primary type",
		},
		{
			name: "container with properties as list",
			src:  "[t:item]\n[t:cont] orderable\n  - stray (string)\n  + * (t:item)\n[t:bad]\n  + lst (t:cont)",
			want: "container with properties",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCompiler().AddData(tt.src)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileExcludedSystemTypes(t *testing.T) {
	c := compileDefs(t, `
[nt:unstructured]
  - * (undefined)
  + * (nt:base) multiple
`)
	// Known name, no field table.
	s := c.Schema("nt:unstructured")
	require.NotNil(t, s)
	require.Empty(t, s.PropertyNames())
}

func TestParseNamespaces(t *testing.T) {
	c := compileDefs(t, testDefs)
	ns := c.Namespaces()
	require.Equal(t, "http://purl.org/dc/elements/1.1/", ns["dc"])
	require.Len(t, ns, 5)
}

func TestParsePropertyDefaultsAndConstraints(t *testing.T) {
	c := compileDefs(t, `
[t:thing]
  - state (string) = 'draft' mandatory < 'draft', 'published'
  - weight (double) protected version
`)
	s := c.Schema("t:thing")
	state := s.Property("state")
	require.Equal(t, []string{"draft"}, state.Defaults)
	require.Equal(t, []string{"draft", "published"}, state.Constraints)
	require.True(t, state.Options.Mandatory)
	require.Equal(t, "copy", state.Options.Version)

	weight := s.Property("weight")
	require.True(t, weight.Options.Protected)
	require.Equal(t, "version", weight.Options.Version)
	require.Equal(t, data.KindDouble, weight.Kind)
}

func TestParseOptionAliases(t *testing.T) {
	c := compileDefs(t, `
[t:thing] ord mix
  - a (string) !
  - b (string) *
  - c (string) man
`)
	s := c.Schema("t:thing")
	require.True(t, s.Orderable())
	require.True(t, s.Mixin())
	require.True(t, s.Property("a").Options.Primary)
	require.True(t, s.Property("b").Options.Multiple)
	require.True(t, s.Property("c").Options.Mandatory)
}

func TestPropertyTypeDefaultsToString(t *testing.T) {
	c := compileDefs(t, "[t:thing]\n  - untyped")
	require.Equal(t, data.KindString, c.Schema("t:thing").Property("untyped").Kind)
}
