// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"strconv"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/rpc"
	"github.com/google/uuid"
)

// txn is one session's transient space: working copies of every node
// it touched, applied to the store only at commit. The revision seen
// at first load drives optimistic conflict detection at prepare time.
type txn struct {
	store    *Store
	nodes    map[data.Id]*nodeRec
	deleted  map[data.Id]bool
	baseRevs map[data.Id]uint64
	prepared bool
}

func newTxn(store *Store) *txn {
	return &txn{
		store:    store,
		nodes:    make(map[data.Id]*nodeRec),
		deleted:  make(map[data.Id]bool),
		baseRevs: make(map[data.Id]uint64),
	}
}

// get reads a node through the overlay.
func (t *txn) get(id data.Id) (*nodeRec, error) {
	if t.deleted[id] {
		return nil, nil
	}
	if rec, ok := t.nodes[id]; ok {
		return rec, nil
	}
	stored, err := t.store.GetNode(id)
	if err != nil || stored == nil {
		return nil, err
	}
	rec := stored.clone()
	t.nodes[id] = rec
	t.baseRevs[id] = stored.Rev
	return rec, nil
}

// apply replays one mutation command. tokens maps earlier add tokens
// to their minted ids so a later command can reference them.
func (t *txn) apply(cmd rpc.Command, tokens map[data.Id]data.Id) error {
	switch c := cmd.(type) {
	case rpc.Add:
		return t.applyAdd(c, tokens)
	case rpc.Modify:
		return t.applyModify(c, tokens)
	case rpc.Remove:
		return t.applyRemove(c, tokens)
	case rpc.Reorder:
		return t.applyReorder(c, tokens)
	}
	return capsuled.ErrProtocol.New("invalid command %T", cmd)
}

func resolve(id data.Id, tokens map[data.Id]data.Id) data.Id {
	if mapped, ok := tokens[id]; ok {
		return mapped
	}
	return id
}

func (t *txn) applyAdd(c rpc.Add, tokens map[data.Id]data.Id) error {
	parentId := resolve(c.Parent, tokens)
	parent, err := t.get(parentId)
	if err != nil {
		return err
	}
	if parent == nil {
		return capsuled.ErrNotFound.New("no parent '%s'", parentId)
	}
	for _, entry := range parent.Children {
		if entry.Name == c.Name {
			return capsuled.ErrConflict.New(
				"child '%s' already exists under '%s'", c.Name, parentId)
		}
	}

	id := data.Id(uuid.NewString())
	rec := &nodeRec{
		Id:     id,
		Name:   c.Name,
		Type:   c.Type,
		Parent: parentId,
		Props: map[string]propRec{
			"jcr:primaryType": {Kind: "name", Str: c.Type},
		},
	}
	for _, p := range c.Props {
		if p.Value == nil {
			return capsuled.ErrProtocol.New("nil property %q in add", p.Name)
		}
		rec.Props[p.Name] = encodeValue(p.Value)
	}
	t.nodes[id] = rec
	parent.Children = append(parent.Children, childEntry{Name: c.Name, Id: id})
	tokens[c.Token] = id
	return nil
}

func (t *txn) applyModify(c rpc.Modify, tokens map[data.Id]data.Id) error {
	id := resolve(c.Id, tokens)
	rec, err := t.get(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return capsuled.ErrNotFound.New("no uuid '%s'", id)
	}
	for _, p := range c.Props {
		if p.Value == nil {
			delete(rec.Props, p.Name)
			continue
		}
		rec.Props[p.Name] = encodeValue(p.Value)
	}
	return nil
}

func (t *txn) applyRemove(c rpc.Remove, tokens map[data.Id]data.Id) error {
	id := resolve(c.Id, tokens)
	rec, err := t.get(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return capsuled.ErrNotFound.New("no uuid '%s'", id)
	}
	if rec.Parent != "" {
		parent, err := t.get(rec.Parent)
		if err != nil {
			return err
		}
		if parent != nil {
			kept := parent.Children[:0]
			for _, entry := range parent.Children {
				if entry.Id != id {
					kept = append(kept, entry)
				}
			}
			parent.Children = kept
		}
	}
	return t.removeSubtree(rec)
}

func (t *txn) removeSubtree(rec *nodeRec) error {
	for _, entry := range rec.Children {
		child, err := t.get(entry.Id)
		if err != nil {
			return err
		}
		if child != nil {
			if err := t.removeSubtree(child); err != nil {
				return err
			}
		}
	}
	t.deleted[rec.Id] = true
	return nil
}

func (t *txn) applyReorder(c rpc.Reorder, tokens map[data.Id]data.Id) error {
	id := resolve(c.Id, tokens)
	rec, err := t.get(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return capsuled.ErrNotFound.New("no uuid '%s'", id)
	}
	for _, ins := range c.Inserts {
		if err := moveBefore(rec, ins.Name, ins.Before); err != nil {
			return err
		}
	}
	return nil
}

// moveBefore repositions child name just before child before.
func moveBefore(rec *nodeRec, name, before string) error {
	from, to := -1, -1
	for i, entry := range rec.Children {
		if entry.Name == name {
			from = i
		}
		if entry.Name == before {
			to = i
		}
	}
	if from < 0 || to < 0 {
		return capsuled.ErrNotFound.New(
			"no child '%s' or '%s' under '%s'", name, before, rec.Id)
	}
	if from == to {
		return nil
	}
	entry := rec.Children[from]
	rest := append(rec.Children[:from], rec.Children[from+1:]...)
	if from < to {
		to--
	}
	rec.Children = append(rest[:to], append([]childEntry{entry}, rest[to:]...)...)
	return nil
}

// prepare verifies no touched node was committed by another session
// since this transaction first read it.
func (t *txn) prepare() error {
	if t.prepared {
		return capsuled.ErrConflict.New("already prepared")
	}
	ids := make([]data.Id, 0, len(t.baseRevs))
	for id := range t.baseRevs {
		ids = append(ids, id)
	}
	revs, err := t.store.Revisions(ids)
	if err != nil {
		return err
	}
	for id, base := range t.baseRevs {
		if revs[id] != base {
			return capsuled.ErrConflict.New(
				"node '%s' has been modified externally", id)
		}
	}
	t.prepared = true
	return nil
}

// commit writes the working set. Only valid after prepare.
func (t *txn) commit() error {
	if !t.prepared {
		return capsuled.ErrConflict.New("not prepared")
	}
	return t.store.ApplyOverlay(t.nodes, t.deleted)
}

// checkpoint snapshots a node's properties as a new version and marks
// it checked in.
func (t *txn) checkpoint(id data.Id) error {
	rec, err := t.get(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return capsuled.ErrNotFound.New("no uuid '%s'", id)
	}
	versionName := strconv.Itoa(len(rec.Versions) + 1) + ".0"
	rec.Versions = append(rec.Versions, versionRec{
		Name:  versionName,
		Props: cloneProps(rec.Props),
	})
	rec.Props["jcr:isCheckedOut"] = propRec{Kind: "boolean", Bool: false}
	rec.Props["jcr:baseVersion"] = propRec{Kind: "string", Str: versionName}
	return nil
}

// checkout reopens a checked-in node.
func (t *txn) checkout(id data.Id) error {
	rec, err := t.get(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return capsuled.ErrNotFound.New("no uuid '%s'", id)
	}
	rec.Props["jcr:isCheckedOut"] = propRec{Kind: "boolean", Bool: true}
	return nil
}

// restore puts a node's properties back to a named version (the base
// version when the name is empty) and returns the ids whose cached
// client state is now stale.
func (t *txn) restore(id data.Id, version string) ([]data.Id, error) {
	rec, err := t.get(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, capsuled.ErrNotFound.New("no uuid '%s'", id)
	}
	if len(rec.Versions) == 0 {
		return nil, capsuled.ErrNotFound.New("no versions for '%s'", id)
	}
	target := rec.Versions[len(rec.Versions)-1]
	if version != "" {
		found := false
		for _, v := range rec.Versions {
			if v.Name == version {
				target = v
				found = true
				break
			}
		}
		if !found {
			return nil, capsuled.ErrNotFound.New(
				"no version '%s' for '%s'", version, id)
		}
	}
	rec.Props = cloneProps(target.Props)
	rec.Props["jcr:isCheckedOut"] = propRec{Kind: "boolean", Bool: false}
	rec.Props["jcr:baseVersion"] = propRec{Kind: "string", Str: target.Name}
	return []data.Id{id}, nil
}
