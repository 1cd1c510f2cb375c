// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package sessiontest provides an in-memory fake controller for
// session tests: a node map applying mutation blocks without any
// wire, plus hooks for injecting failures.
package sessiontest

import (
	"fmt"
	"sort"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/rpc"
)

// RootId is the fixed workspace root id of a fresh fake.
const RootId = data.Id("cafe-babe")

// Node is one in-memory repository node.
type Node struct {
	Id       data.Id
	Name     string
	Type     string
	Parent   data.Id
	Children []Child
	Props    map[string]data.Value
}

type Child struct {
	Name string
	Id   data.Id
}

// FakeController implements session.Controller against an in-memory
// tree. It records every command block for assertions.
type FakeController struct {
	Defs   string
	Nodes  map[data.Id]*Node
	nextId int

	// Recorded traffic.
	StateRequests [][]data.Id
	Sent          [][]rpc.Command
	Prepares    int
	Commits     int
	Aborts      int
	Checkpoints []data.Id
	Checkouts   []data.Id

	// Injected failures.
	PrepareErr error
	CommitErr  error
}

func New(defs string) *FakeController {
	root := &Node{
		Id:    RootId,
		Type:  "rep:root",
		Props: map[string]data.Value{"jcr:primaryType": data.Name("rep:root")},
	}
	return &FakeController{
		Defs:   defs,
		Nodes:  map[data.Id]*Node{RootId: root},
		nextId: 1,
	}
}

// AddNode seeds a node under a parent.
func (f *FakeController) AddNode(parent data.Id, id data.Id, name, typeName string, props map[string]data.Value) *Node {
	p := f.Nodes[parent]
	if p == nil {
		panic(fmt.Sprintf("no parent %q", parent))
	}
	if props == nil {
		props = make(map[string]data.Value)
	}
	props["jcr:primaryType"] = data.Name(typeName)
	n := &Node{Id: id, Name: name, Type: typeName, Parent: parent, Props: props}
	f.Nodes[id] = n
	p.Children = append(p.Children, Child{Name: name, Id: id})
	return n
}

func (f *FakeController) Login(workspace string) (data.Id, error) {
	return RootId, nil
}

func (f *FakeController) GetNodeTypeDefs() (string, error) {
	return f.Defs, nil
}

func (f *FakeController) GetNodeType(id data.Id) (string, error) {
	n, ok := f.Nodes[id]
	if !ok {
		return "", capsuled.ErrNotFound.New("No uuid '%s'", id)
	}
	return n.Type, nil
}

func (f *FakeController) GetNodeStates(ids []data.Id) (map[data.Id]*rpc.NodeState, error) {
	f.StateRequests = append(f.StateRequests, ids)
	states := make(map[data.Id]*rpc.NodeState, len(ids))
	for _, id := range ids {
		n, ok := f.Nodes[id]
		if !ok {
			return nil, capsuled.ErrNotFound.New("No uuid '%s'", id)
		}
		st := &rpc.NodeState{Id: id, Name: n.Name, Parent: n.Parent}
		for _, c := range n.Children {
			st.Children = append(st.Children, rpc.ChildInfo{
				Name: c.Name,
				Id:   c.Id,
				Type: f.Nodes[c.Id].Type,
			})
		}
		names := make([]string, 0, len(n.Props))
		for name := range n.Props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			st.Props = append(st.Props, rpc.Prop{Name: name, Value: n.Props[name]})
		}
		states[id] = st
	}
	return states, nil
}

func (f *FakeController) SendCommands(commands []rpc.Command) (map[data.Id]data.Id, error) {
	f.Sent = append(f.Sent, commands)
	tokens := make(map[data.Id]data.Id)
	for _, cmd := range commands {
		switch c := cmd.(type) {
		case rpc.Add:
			parentId := c.Parent
			if mapped, ok := tokens[parentId]; ok {
				parentId = mapped
			}
			parent, ok := f.Nodes[parentId]
			if !ok {
				return nil, capsuled.ErrProtocol.New("no parent '%s'", parentId)
			}
			id := data.Id(fmt.Sprintf("cafe-%04d", f.nextId))
			f.nextId++
			props := map[string]data.Value{"jcr:primaryType": data.Name(c.Type)}
			for _, p := range c.Props {
				props[p.Name] = p.Value
			}
			n := &Node{Id: id, Name: c.Name, Type: c.Type, Parent: parentId, Props: props}
			f.Nodes[id] = n
			parent.Children = append(parent.Children, Child{Name: c.Name, Id: id})
			tokens[c.Token] = id
		case rpc.Modify:
			n, ok := f.Nodes[c.Id]
			if !ok {
				return nil, capsuled.ErrProtocol.New("No uuid '%s'", c.Id)
			}
			for _, p := range c.Props {
				if p.Value == nil {
					delete(n.Props, p.Name)
				} else {
					n.Props[p.Name] = p.Value
				}
			}
		case rpc.Remove:
			n, ok := f.Nodes[c.Id]
			if !ok {
				return nil, capsuled.ErrProtocol.New("No uuid '%s'", c.Id)
			}
			delete(f.Nodes, c.Id)
			if parent, ok := f.Nodes[n.Parent]; ok {
				kept := parent.Children[:0]
				for _, child := range parent.Children {
					if child.Id != c.Id {
						kept = append(kept, child)
					}
				}
				parent.Children = kept
			}
		case rpc.Reorder:
			n, ok := f.Nodes[c.Id]
			if !ok {
				return nil, capsuled.ErrProtocol.New("No uuid '%s'", c.Id)
			}
			for _, ins := range c.Inserts {
				moveChildBefore(n, ins.Name, ins.Before)
			}
		}
	}
	return tokens, nil
}

func moveChildBefore(n *Node, name, before string) {
	from, to := -1, -1
	for i, c := range n.Children {
		if c.Name == name {
			from = i
		}
		if c.Name == before {
			to = i
		}
	}
	if from < 0 || to < 0 || from == to {
		return
	}
	entry := n.Children[from]
	rest := append(n.Children[:from], n.Children[from+1:]...)
	if from < to {
		to--
	}
	n.Children = append(rest[:to], append([]Child{entry}, rest[to:]...)...)
}

func (f *FakeController) Prepare() error {
	f.Prepares++
	if f.PrepareErr != nil {
		return f.PrepareErr
	}
	return nil
}

func (f *FakeController) Commit() error {
	f.Commits++
	if f.CommitErr != nil {
		return f.CommitErr
	}
	return nil
}

func (f *FakeController) Abort() error {
	f.Aborts++
	return nil
}

func (f *FakeController) Checkpoint(id data.Id) error {
	n, ok := f.Nodes[id]
	if !ok {
		return capsuled.ErrNotFound.New("No uuid '%s'", id)
	}
	f.Checkpoints = append(f.Checkpoints, id)
	n.Props["jcr:isCheckedOut"] = data.Bool(false)
	return nil
}

func (f *FakeController) Checkout(id data.Id) error {
	n, ok := f.Nodes[id]
	if !ok {
		return capsuled.ErrNotFound.New("No uuid '%s'", id)
	}
	f.Checkouts = append(f.Checkouts, id)
	n.Props["jcr:isCheckedOut"] = data.Bool(true)
	return nil
}

func (f *FakeController) Restore(id data.Id, version string) ([]data.Id, error) {
	if _, ok := f.Nodes[id]; !ok {
		return nil, capsuled.ErrNotFound.New("No uuid '%s'", id)
	}
	return []data.Id{id}, nil
}

// LastSent returns the most recent command block, or nil.
func (f *FakeController) LastSent() []rpc.Command {
	if len(f.Sent) == 0 {
		return nil
	}
	return f.Sent[len(f.Sent)-1]
}
