// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

package rpc

import (
	"strings"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
)

// Command is one entry of a batched mutation block. Commands must be
// emitted in dependency order: the parent of every Add is either a
// server-known id or the token of an earlier Add in the same block.
type Command interface {
	encode(f *Frame) error
}

// Add creates a node under Parent. Token is a caller-supplied
// temporary id echoed back with the assigned permanent id.
type Add struct {
	Parent data.Id
	Type   string
	Token  data.Id
	Name   string
	Props  []Prop
}

func (c Add) encode(f *Frame) error {
	line := "+" + c.Parent.String() + " " + c.Type + " " + c.Token.String() + " " + c.Name
	if err := f.WriteLine(line); err != nil {
		return err
	}
	for _, p := range c.Props {
		if err := f.WriteProp(p, false); err != nil {
			return err
		}
	}
	return f.WriteLine(",")
}

// Modify updates properties of an existing node. A nil property value
// deletes the property.
type Modify struct {
	Id    data.Id
	Props []Prop
}

func (c Modify) encode(f *Frame) error {
	if err := f.WriteLine("/" + c.Id.String()); err != nil {
		return err
	}
	for _, p := range c.Props {
		if err := f.WriteProp(p, true); err != nil {
			return err
		}
	}
	return f.WriteLine(",")
}

// Remove deletes a node and its subtree.
type Remove struct {
	Id data.Id
}

func (c Remove) encode(f *Frame) error {
	return f.WriteLine("-" + c.Id.String())
}

// Insert moves child Name before child Before.
type Insert struct {
	Name   string
	Before string
}

// Reorder applies a sequence of insert-before moves to the children
// of a node.
type Reorder struct {
	Id      data.Id
	Inserts []Insert
}

func (c Reorder) encode(f *Frame) error {
	if err := f.WriteLine("%" + c.Id.String()); err != nil {
		return err
	}
	for _, ins := range c.Inserts {
		if err := f.WriteLine(ins.Name + "/" + ins.Before); err != nil {
			return err
		}
	}
	return f.WriteLine("%")
}

// WriteCommands emits a full mutation block: "M", the commands, ".".
func WriteCommands(f *Frame, commands []Command) error {
	if err := f.WriteLine("M"); err != nil {
		return err
	}
	for _, c := range commands {
		if err := c.encode(f); err != nil {
			return err
		}
	}
	return f.WriteLine(".")
}

// ReadTokenMap reads the token to permanent id mapping that answers a
// mutation block.
func ReadTokenMap(f *Frame) (map[data.Id]data.Id, error) {
	m := make(map[data.Id]data.Id)
	for {
		line, err := f.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "." {
			return m, nil
		}
		if IsErrorLine(line) {
			return nil, capsuled.ErrProtocol.New("%s", line[1:])
		}
		token, id, ok := strings.Cut(line, " ")
		if !ok {
			return nil, capsuled.ErrProtocol.New("bad token mapping %q", line)
		}
		m[data.Id(token)] = data.Id(id)
	}
}

// ReadCommand decodes the next command of a mutation block on the
// server side. done is true when the terminating "." was consumed.
func ReadCommand(f *Frame) (cmd Command, done bool, err error) {
	line, err := f.ReadLine()
	if err != nil {
		return nil, false, err
	}
	if line == "." {
		return nil, true, nil
	}
	if line == "" {
		return nil, false, capsuled.ErrProtocol.New("empty command line")
	}
	tag, rest := line[0], line[1:]
	switch tag {
	case '+':
		parts := strings.SplitN(rest, " ", 4)
		if len(parts) != 4 {
			return nil, false, capsuled.ErrProtocol.New("bad add command %q", line)
		}
		props, err := readCommandProps(f)
		if err != nil {
			return nil, false, err
		}
		return Add{
			Parent: data.Id(parts[0]),
			Type:   parts[1],
			Token:  data.Id(parts[2]),
			Name:   parts[3],
			Props:  props,
		}, false, nil
	case '/':
		props, err := readCommandProps(f)
		if err != nil {
			return nil, false, err
		}
		return Modify{Id: data.Id(rest), Props: props}, false, nil
	case '-':
		return Remove{Id: data.Id(rest)}, false, nil
	case '%':
		var inserts []Insert
		for {
			line, err := f.ReadLine()
			if err != nil {
				return nil, false, err
			}
			if line == "%" {
				return Reorder{Id: data.Id(rest), Inserts: inserts}, false, nil
			}
			name, before, ok := strings.Cut(line, "/")
			if !ok {
				return nil, false, capsuled.ErrProtocol.New("bad reorder line %q", line)
			}
			inserts = append(inserts, Insert{Name: name, Before: before})
		}
	}
	return nil, false, capsuled.ErrProtocol.New("invalid op %q", line)
}

// readCommandProps reads property lines until the "," that ends an
// add or modify command. "D<name>" becomes a nil-valued Prop.
func readCommandProps(f *Frame) ([]Prop, error) {
	var props []Prop
	for {
		line, err := f.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "," {
			return props, nil
		}
		if line == "" {
			return nil, capsuled.ErrProtocol.New("empty property line")
		}
		tag, rest := line[0], line[1:]
		switch tag {
		case 'P':
			v, err := f.ReadValue()
			if err != nil {
				return nil, err
			}
			if v == nil {
				return nil, capsuled.ErrProtocol.New("missing value for %q", rest)
			}
			props = append(props, Prop{Name: rest, Value: v})
		case 'M':
			values, err := f.ReadMulti()
			if err != nil {
				return nil, err
			}
			props = append(props, Prop{Name: rest, Value: values})
		case 'D':
			props = append(props, Prop{Name: rest})
		default:
			return nil, capsuled.ErrProtocol.New("unexpected property line %q", line)
		}
	}
}
