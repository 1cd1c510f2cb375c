// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

package rpc

import (
	"strings"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
)

// ChildInfo describes one child entry in a node state block.
type ChildInfo struct {
	Name string
	Id   data.Id
	Type string
}

// NodeState is the decoded form of one U-block: everything the client
// needs to activate a ghost.
type NodeState struct {
	Id       data.Id
	Name     string
	Parent   data.Id // empty for the workspace root
	Children []ChildInfo
	Props    []Prop
	Deferred []string
}

// ReadStates decodes a state reply: one or more U-blocks terminated by
// a "." line. The server may include states that were not asked for.
func ReadStates(f *Frame) (map[data.Id]*NodeState, error) {
	line, err := f.ReadLine()
	if err != nil {
		return nil, err
	}
	if IsErrorLine(line) {
		return nil, capsuled.ErrNotFound.New("%s", line[1:])
	}
	f.PushBack(line)

	infos := make(map[data.Id]*NodeState)
	for {
		line, err := f.ReadLine()
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(line, "U") {
			return nil, capsuled.ErrProtocol.New("expected U-block, got %q", line)
		}
		id, name, ok := strings.Cut(line[1:], " ")
		if !ok {
			return nil, capsuled.ErrProtocol.New("bad U-block header %q", line)
		}
		st := &NodeState{Id: data.Id(id), Name: name}
		done, err := f.readStateBody(st)
		if err != nil {
			return nil, err
		}
		infos[st.Id] = st
		if done {
			return infos, nil
		}
	}
}

// readStateBody consumes one U-block body. It reports true when the
// final "." was seen, false when the next U-block header was pushed
// back.
func (f *Frame) readStateBody(st *NodeState) (bool, error) {
	for {
		line, err := f.ReadLine()
		if err != nil {
			return false, err
		}
		if line == "." {
			return true, nil
		}
		if line == "" {
			return false, capsuled.ErrProtocol.New("empty state line")
		}
		tag, rest := line[0], line[1:]
		switch tag {
		case 'U':
			f.PushBack(line)
			return false, nil
		case '^':
			st.Parent = data.Id(rest)
		case 'N':
			parts := strings.SplitN(rest, " ", 3)
			if len(parts) != 3 {
				return false, capsuled.ErrProtocol.New("bad child line %q", line)
			}
			st.Children = append(st.Children, ChildInfo{
				Id:   data.Id(parts[0]),
				Type: parts[1],
				Name: parts[2],
			})
		case 'P':
			v, err := f.ReadValue()
			if err != nil {
				return false, err
			}
			if v == nil {
				return false, capsuled.ErrProtocol.New("missing value for property %q", rest)
			}
			st.Props = append(st.Props, Prop{Name: rest, Value: v})
		case 'M':
			values, err := f.ReadMulti()
			if err != nil {
				return false, err
			}
			st.Props = append(st.Props, Prop{Name: rest, Value: values})
		case 'D':
			st.Deferred = append(st.Deferred, rest)
		default:
			return false, capsuled.ErrProtocol.New("unexpected state line %q", line)
		}
	}
}

// WriteState encodes one U-block. The caller terminates the reply with
// a "." line after the last block.
func (f *Frame) WriteState(st *NodeState) error {
	if err := f.WriteLine("U" + st.Id.String() + " " + st.Name); err != nil {
		return err
	}
	if st.Parent != "" {
		if err := f.WriteLine("^" + st.Parent.String()); err != nil {
			return err
		}
	}
	for _, c := range st.Children {
		if err := f.WriteLine("N" + c.Id.String() + " " + c.Type + " " + c.Name); err != nil {
			return err
		}
	}
	for _, p := range st.Props {
		if err := f.WriteProp(p, false); err != nil {
			return err
		}
	}
	for _, name := range st.Deferred {
		if err := f.WriteLine("D" + name); err != nil {
			return err
		}
	}
	return nil
}
