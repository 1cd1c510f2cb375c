// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

// NodeTypeDefs is the CND handed to clients on a D request. The
// builtin set covers the content model base plus a handful of stock
// schemas. It is a constant: every D request gets this same set.
const NodeTypeDefs = `
<ecm='http://nuxeo.org/ecm/jcr/names'>
<ecmnt='http://nuxeo.org/ecm/jcr/types'>
<ecmst='http://nuxeo.org/ecm/jcr/schemas'>
<ecmdt='http://nuxeo.org/ecm/jcr/docs'>
<dc='http://purl.org/dc/elements/1.1/'>

// workspace root
[rep:root] orderable
  + * (ecmnt:document)

// schema base
[ecmnt:schema]

// document
[ecmnt:document]

// the children holder under a document
[ecmnt:children] orderable
  + * (ecmnt:document)

// non-orderable folder
[ecmnt:folder] > ecmnt:document
  + * (ecmnt:document)

// dublin core
[ecmst:dublincore] > ecmnt:schema
  - dc:title
  - dc:description (string)

// a complex type for firstname+lastname
[ecmst:name] > ecmnt:schema
  - firstname (string)
  - lastname (string)

// an ordered list of names
[ecmst:names] orderable
  + * (ecmst:name)

// the schema for the tripreport part
[ecmst:tripreport] > ecmnt:schema
  - duedate (date)
  - cities (string) multiple
  + username (ecmst:name)
  + childrennames (ecmst:names)

// a full document type
[ecmdt:tripreport] > ecmnt:document, ecmst:tripreport, ecmst:dublincore
`
