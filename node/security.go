// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package node

import (
	"sort"
	"strings"

	"github.com/capsule/capsuled"
)

// The security state of a document travels as two string properties
// with a small line grammar, encoded at save time and decoded at load
// time.
//
//	ecm:localroles  principal_kind ':' principal '=' role(,role)* (';' …)*
//	ecm:security    permission ('='|'+=') role(,role)* (';' …)*
//
// principal_kind is "user" or "group". A "+=" entry is additive: it
// extends inherited grants instead of replacing them.

const (
	LocalRolesProp = "ecm:localroles"
	SecurityProp   = "ecm:security"
)

// LocalRoles maps principals to their granted roles.
type LocalRoles struct {
	Users  map[string][]string
	Groups map[string][]string
}

// EncodeLocalRoles serializes local roles; entries and role lists are
// sorted so the encoding is canonical. Empty state encodes to "".
func EncodeLocalRoles(lr LocalRoles) string {
	entries := make([]string, 0, len(lr.Users)+len(lr.Groups))
	for principal, roles := range lr.Users {
		entries = append(entries, "user:"+principal+"="+joinSorted(roles))
	}
	for principal, roles := range lr.Groups {
		entries = append(entries, "group:"+principal+"="+joinSorted(roles))
	}
	sort.Strings(entries)
	return strings.Join(entries, ";")
}

// DecodeLocalRoles parses an ecm:localroles value.
func DecodeLocalRoles(s string) (LocalRoles, error) {
	lr := LocalRoles{
		Users:  make(map[string][]string),
		Groups: make(map[string][]string),
	}
	if s == "" {
		return lr, nil
	}
	for _, entry := range strings.Split(s, ";") {
		key, roles, ok := strings.Cut(entry, "=")
		if !ok {
			return lr, capsuled.ErrSchema.New("illegal string %q for %s", s, LocalRolesProp)
		}
		kind, principal, ok := strings.Cut(key, ":")
		if !ok {
			return lr, capsuled.ErrSchema.New("illegal string %q for %s", s, LocalRolesProp)
		}
		switch kind {
		case "user":
			lr.Users[principal] = strings.Split(roles, ",")
		case "group":
			lr.Groups[principal] = strings.Split(roles, ",")
		default:
			return lr, capsuled.ErrSchema.New("illegal string %q for %s", s, LocalRolesProp)
		}
	}
	return lr, nil
}

// Permission is one permission-to-roles grant.
type Permission struct {
	Name     string
	Roles    []string
	Additive bool
}

// EncodeSecurity serializes permission grants; entries and role lists
// are sorted so the encoding is canonical.
func EncodeSecurity(perms []Permission) string {
	entries := make([]string, 0, len(perms))
	for _, p := range perms {
		op := "="
		if p.Additive {
			op = "+="
		}
		entries = append(entries, p.Name+op+joinSorted(p.Roles))
	}
	sort.Strings(entries)
	return strings.Join(entries, ";")
}

// DecodeSecurity parses an ecm:security value.
func DecodeSecurity(s string) ([]Permission, error) {
	if s == "" {
		return nil, nil
	}
	var perms []Permission
	for _, entry := range strings.Split(s, ";") {
		name, roles, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, capsuled.ErrSchema.New("illegal string %q for %s", s, SecurityProp)
		}
		p := Permission{Name: name}
		if strings.HasSuffix(name, "+") {
			p.Name = name[:len(name)-1]
			p.Additive = true
		}
		if p.Name == "" {
			return nil, capsuled.ErrSchema.New("illegal string %q for %s", s, SecurityProp)
		}
		p.Roles = strings.Split(roles, ",")
		perms = append(perms, p)
	}
	return perms, nil
}

func joinSorted(roles []string) string {
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
