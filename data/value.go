// Copyright (c) 2019-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package data holds the value model shared by the wire codec, the
// persistent object model and the repository store: node ids, typed
// property values and qualified names.
package data

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the property value kinds a repository node can hold.
type Kind int

const (
	KindUndefined Kind = iota
	KindString
	KindBinary
	KindLong
	KindDouble
	KindDate
	KindBoolean
	KindName
	KindPath
	KindReference
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindDate:
		return "date"
	case KindBoolean:
		return "boolean"
	case KindName:
		return "name"
	case KindPath:
		return "path"
	case KindReference:
		return "reference"
	case KindUndefined:
		return "undefined"
	}
	return "unknown"
}

// KindForName maps a CND type name to a Kind. The wildcard "*" maps to
// KindUndefined. ok is false for unknown names.
func KindForName(name string) (Kind, bool) {
	switch strings.ToLower(name) {
	case "string":
		return KindString, true
	case "binary":
		return KindBinary, true
	case "long":
		return KindLong, true
	case "double":
		return KindDouble, true
	case "boolean":
		return KindBoolean, true
	case "date":
		return KindDate, true
	case "name":
		return KindName, true
	case "path":
		return KindPath, true
	case "reference":
		return KindReference, true
	case "undefined", "*":
		return KindUndefined, true
	}
	return KindUndefined, false
}

// Value is a typed property value. The concrete types are String,
// Blob, Long, Double, Date, Bool, Name, Path, Reference and Multi.
type Value interface {
	Kind() Kind
}

type String string

func (String) Kind() Kind { return KindString }

// Blob carries raw bytes; the byte length is independent of any utf-8
// interpretation.
type Blob []byte

func (Blob) Kind() Kind { return KindBinary }

func (b Blob) Len() int { return len(b) }

type Long int64

func (Long) Kind() Kind { return KindLong }

type Double float64

func (Double) Kind() Kind { return KindDouble }

type Bool bool

func (Bool) Kind() Kind { return KindBoolean }

// Date is a UTC timestamp with millisecond wire resolution.
type Date struct {
	t time.Time
}

func NewDate(t time.Time) Date { return Date{t: t.UTC()} }

func (Date) Kind() Kind { return KindDate }

func (d Date) Time() time.Time { return d.t }

// Truncated returns the date at the wire's millisecond resolution.
func (d Date) Truncated() Date { return Date{t: d.t.Truncate(time.Millisecond)} }

type Name string

func (Name) Kind() Kind { return KindName }

type Path string

func (Path) Kind() Kind { return KindPath }

// Reference points at another node by id.
type Reference Id

func (Reference) Kind() Kind { return KindReference }

func (r Reference) Target() Id { return Id(r) }

// Multi is an ordered multi-valued property.
type Multi []Value

// Kind of a Multi is the kind of its elements, or KindUndefined when
// empty.
func (m Multi) Kind() Kind {
	if len(m) == 0 {
		return KindUndefined
	}
	return m[0].Kind()
}

// Id is an opaque node identifier assigned by the repository.
// Temporary ids of the form "T<n>" are minted client side for nodes
// not yet persisted and remapped at save time.
type Id string

const tmpPrefix = "T"

func TempId(n uint64) Id {
	return Id(tmpPrefix + strconv.FormatUint(n, 10))
}

func (id Id) IsTemp() bool {
	if !strings.HasPrefix(string(id), tmpPrefix) {
		return false
	}
	_, err := strconv.ParseUint(string(id[1:]), 10, 64)
	return err == nil
}

func (id Id) String() string { return string(id) }

// Equal compares two values. Blobs compare by bytes, dates at
// millisecond resolution, Multi element-wise.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Blob:
		bv, ok := b.(Blob)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case Date:
		bv, ok := b.(Date)
		return ok && av.Truncated().t.Equal(bv.Truncated().t)
	case Multi:
		bv, ok := b.(Multi)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func Repr(v Value) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case String:
		return fmt.Sprintf("%q", string(val))
	case Blob:
		return fmt.Sprintf("<blob %d bytes>", len(val))
	case Multi:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = Repr(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}
