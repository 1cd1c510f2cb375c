// Copyright (c) 2017-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

// Package client implements the synchronous repository controller. A
// controller owns one socket and one server-side session; every method
// blocks until the reply has been fully received. It is not safe for
// concurrent calls.
package client

import (
	"net"
	"strings"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/rpc"
)

type Controller struct {
	conn net.Conn
	f    *rpc.Frame
}

// Dial connects to the repository server and consumes its welcome
// line.
func Dial(network, address string) (*Controller, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	c := New(conn)
	if err := c.Connect(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an established connection without consuming the welcome
// line; used by tests driving a scripted peer.
func New(conn net.Conn) *Controller {
	return &Controller{conn: conn, f: rpc.NewFrame(conn)}
}

// Connect reads the welcome banner sent on accept.
func (c *Controller) Connect() error {
	_, err := c.f.ReadLine()
	return err
}

func (c *Controller) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Login opens the given workspace and returns the root node id.
func (c *Controller) Login(workspace string) (data.Id, error) {
	if err := c.f.WriteLine("L" + workspace); err != nil {
		return "", err
	}
	line, err := c.f.ReadLine()
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(line, "^") {
		return "", capsuled.ErrProtocol.New("login reply %q", line)
	}
	return data.Id(line[1:]), nil
}

// GetNodeTypeDefs fetches the repository's CND type definitions.
func (c *Controller) GetNodeTypeDefs() (string, error) {
	if err := c.f.WriteLine("D"); err != nil {
		return "", err
	}
	var lines []string
	for {
		line, err := c.f.ReadLine()
		if err != nil {
			return "", err
		}
		if line == "." {
			return strings.Join(lines, "\n"), nil
		}
		if rpc.IsErrorLine(line) {
			return "", capsuled.ErrProtocol.New("%s", line[1:])
		}
		lines = append(lines, line)
	}
}

// GetNodeType fetches the primary type of a node.
func (c *Controller) GetNodeType(id data.Id) (string, error) {
	if err := c.f.WriteLine("T" + id.String()); err != nil {
		return "", err
	}
	line, err := c.f.ReadLine()
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(line, "T") {
		return "", capsuled.ErrProtocol.New("node type reply %q", line)
	}
	return line[1:], nil
}

// GetNodeStates fetches the state of several nodes in one round trip.
// The server may return additional states.
func (c *Controller) GetNodeStates(ids []data.Id) (map[data.Id]*rpc.NodeState, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	if err := c.f.WriteLine("S" + strings.Join(strs, " ")); err != nil {
		return nil, err
	}
	return rpc.ReadStates(c.f)
}

// SendCommands replays a mutation block and returns the token to
// permanent id mapping for the adds it contained.
func (c *Controller) SendCommands(commands []rpc.Command) (map[data.Id]data.Id, error) {
	if err := rpc.WriteCommands(c.f, commands); err != nil {
		return nil, err
	}
	return rpc.ReadTokenMap(c.f)
}

func (c *Controller) simple(cmd string) (string, error) {
	if err := c.f.WriteLine(cmd); err != nil {
		return "", err
	}
	return c.f.ReadLine()
}

// Prepare asks the repository to prepare the current transaction.
func (c *Controller) Prepare() error {
	line, err := c.simple("p")
	if err != nil {
		return err
	}
	if line != "." {
		return capsuled.ErrConflict.New("%s", strings.TrimPrefix(line, "!"))
	}
	return nil
}

// Commit commits the prepared transaction and starts a new one.
func (c *Controller) Commit() error {
	line, err := c.simple("c")
	if err != nil {
		return err
	}
	if line != "." {
		return capsuled.ErrConflict.New("%s", strings.TrimPrefix(line, "!"))
	}
	return nil
}

// Abort rolls back the current transaction and starts a new one.
func (c *Controller) Abort() error {
	line, err := c.simple("r")
	if err != nil {
		return err
	}
	if line != "." {
		return capsuled.ErrConflict.New("%s", strings.TrimPrefix(line, "!"))
	}
	return nil
}

// Checkpoint checks in a node, creating a new version.
func (c *Controller) Checkpoint(id data.Id) error {
	line, err := c.simple("i" + id.String())
	if err != nil {
		return err
	}
	if line != "." {
		return capsuled.ErrProtocol.New("checkpoint reply %q", line)
	}
	return nil
}

// Checkout reopens a checked-in node for modification.
func (c *Controller) Checkout(id data.Id) error {
	line, err := c.simple("o" + id.String())
	if err != nil {
		return err
	}
	if line != "." {
		return capsuled.ErrProtocol.New("checkout reply %q", line)
	}
	return nil
}

// Restore restores a node to a named version and returns the ids
// whose cached state is now stale.
func (c *Controller) Restore(id data.Id, version string) ([]data.Id, error) {
	line, err := c.simple("t" + id.String() + " " + version)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, ".") {
		return nil, capsuled.ErrProtocol.New("restore reply %q", line)
	}
	var stale []data.Id
	for _, s := range strings.Split(line[1:], ",") {
		if s != "" {
			stale = append(stale, data.Id(s))
		}
	}
	return stale, nil
}

// GetPath resolves a node id to its workspace-relative path.
func (c *Controller) GetPath(id data.Id) (string, error) {
	line, err := c.simple("/" + id.String())
	if err != nil {
		return "", err
	}
	if rpc.IsErrorLine(line) {
		return "", capsuled.ErrNotFound.New("%s", line[1:])
	}
	return line, nil
}

// SearchHit is one node matched by SearchProperty.
type SearchHit struct {
	Id   data.Id
	Path string
}

// SearchProperty finds nodes whose named property equals value.
func (c *Controller) SearchProperty(name, value string) ([]SearchHit, error) {
	if err := c.f.WriteLine("s" + name + " " + value); err != nil {
		return nil, err
	}
	var hits []SearchHit
	for {
		line, err := c.f.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "." {
			return hits, nil
		}
		if rpc.IsErrorLine(line) {
			return nil, capsuled.ErrProtocol.New("%s", line[1:])
		}
		id, path, ok := strings.Cut(line, " ")
		if !ok {
			return nil, capsuled.ErrProtocol.New("bad search hit %q", line)
		}
		hits = append(hits, SearchHit{Id: data.Id(id), Path: path})
	}
}

// GetNodeProperties is reserved for lazy fetch of deferred
// properties.
func (c *Controller) GetNodeProperties(id data.Id, names []string) (map[string]data.Value, error) {
	return nil, capsuled.ErrUnsupported.New("GetNodeProperties")
}

// GetPendingEvents is reserved for the observation surface.
func (c *Controller) GetPendingEvents() ([]string, error) {
	return nil, capsuled.ErrUnsupported.New("GetPendingEvents")
}
