// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"sort"
	"strings"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/capsule/capsuled/rpc"
	"github.com/sirupsen/logrus"
)

// quitError signals a clean connection shutdown requested by the peer.
type quitError struct{}

func (quitError) Error() string { return "quit" }

// processor drives one connection: it dispatches command lines onto
// the store through the connection's transaction.
type processor struct {
	f     *rpc.Frame
	store *Store
	log   *logrus.Entry

	txn    *txn
	rootId data.Id
}

func newProcessor(f *rpc.Frame, store *Store, log *logrus.Entry) *processor {
	return &processor{f: f, store: store, log: log}
}

func (p *processor) writeln(line string) error {
	return p.f.WriteLine(line)
}

func (p *processor) fail(msg string) error {
	return p.writeln("!" + msg)
}

func (p *processor) failErr(err error) error {
	return p.fail(errText(err))
}

// errText strips the error-class prefix so the wire carries the plain
// message.
func errText(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

// process handles one command line. Commands needing a login reply
// with an error when none happened yet.
func (p *processor) process(line string) error {
	if line == "" {
		return nil
	}
	cmd, rest := line[0], line[1:]
	if cmd == 'L' {
		return p.cmdLogin(rest)
	}
	if cmd == 'q' {
		return quitError{}
	}
	if p.txn == nil {
		return p.fail("Not logged in.")
	}
	switch cmd {
	case 'D':
		return p.cmdNodeTypeDefs()
	case 'T':
		return p.cmdNodeType(rest)
	case 'S':
		return p.cmdNodeStates(rest)
	case 'M':
		return p.cmdMutate()
	case 'p':
		return p.cmdPrepare()
	case 'c':
		return p.cmdCommit()
	case 'r':
		return p.cmdRollback()
	case 'i':
		return p.cmdCheckpoint(rest)
	case 'o':
		return p.cmdCheckout(rest)
	case 't':
		return p.cmdRestore(rest)
	case '/':
		return p.cmdPath(rest)
	case 's':
		return p.cmdSearch(rest)
	}
	return p.fail("Unknown command '" + string(cmd) + "'")
}

func (p *processor) cmdLogin(workspace string) error {
	if p.txn != nil {
		return p.fail("Already logged in.")
	}
	if workspace == "" {
		return p.fail("No such workspace ''.")
	}
	rootId, err := p.store.EnsureWorkspace(workspace)
	if err != nil {
		return p.failErr(err)
	}
	p.rootId = rootId
	p.txn = newTxn(p.store)
	p.log.WithField("workspace", workspace).Info("login")
	return p.writeln("^" + rootId.String())
}

func (p *processor) cmdNodeTypeDefs() error {
	for _, line := range strings.Split(strings.TrimSpace(NodeTypeDefs), "\n") {
		if err := p.writeln(line); err != nil {
			return err
		}
	}
	return p.writeln(".")
}

func (p *processor) cmdNodeType(id string) error {
	rec, err := p.txn.get(data.Id(id))
	if err != nil {
		return p.failErr(err)
	}
	if rec == nil {
		return p.fail("No uuid '" + id + "'")
	}
	return p.writeln("T" + rec.Type)
}

func (p *processor) cmdNodeStates(rest string) error {
	ids := strings.Fields(rest)
	// Check all ids before answering anything.
	recs := make([]*nodeRec, 0, len(ids))
	for _, id := range ids {
		rec, err := p.txn.get(data.Id(id))
		if err != nil {
			return p.failErr(err)
		}
		if rec == nil {
			return p.fail("No uuid '" + id + "'")
		}
		recs = append(recs, rec)
	}
	for _, rec := range recs {
		st, err := p.stateOf(rec)
		if err != nil {
			return p.failErr(err)
		}
		if err := p.f.WriteState(st); err != nil {
			return err
		}
	}
	return p.writeln(".")
}

// stateOf builds the wire state of a node, resolving child types
// through the transaction.
func (p *processor) stateOf(rec *nodeRec) (*rpc.NodeState, error) {
	st := &rpc.NodeState{
		Id:     rec.Id,
		Name:   rec.Name,
		Parent: rec.Parent,
	}
	for _, entry := range rec.Children {
		child, err := p.txn.get(entry.Id)
		if err != nil {
			return nil, err
		}
		if child == nil {
			continue
		}
		st.Children = append(st.Children, rpc.ChildInfo{
			Name: entry.Name,
			Id:   entry.Id,
			Type: child.Type,
		})
	}
	names := make([]string, 0, len(rec.Props))
	for name := range rec.Props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st.Props = append(st.Props, rpc.Prop{
			Name:  name,
			Value: decodeValue(rec.Props[name]),
		})
	}
	return st, nil
}

func (p *processor) cmdMutate() error {
	tokens := make(map[data.Id]data.Id)
	var order []data.Id
	var applyErr error
	// The whole block is consumed even when a command fails, so the
	// stream stays in sync for the error reply.
	for {
		cmd, done, err := rpc.ReadCommand(p.f)
		if err != nil {
			return err
		}
		if done {
			break
		}
		if applyErr != nil {
			continue
		}
		if add, ok := cmd.(rpc.Add); ok {
			order = append(order, add.Token)
		}
		applyErr = p.txn.apply(cmd, tokens)
	}
	if applyErr != nil {
		return p.failErr(applyErr)
	}
	for _, token := range order {
		if err := p.writeln(token.String() + " " + tokens[token].String()); err != nil {
			return err
		}
	}
	return p.writeln(".")
}

func (p *processor) cmdPrepare() error {
	if err := p.txn.prepare(); err != nil {
		// A refused prepare rolls the transaction back; the session
		// starts over.
		p.txn = newTxn(p.store)
		return p.failErr(err)
	}
	return p.writeln(".")
}

func (p *processor) cmdCommit() error {
	if err := p.txn.commit(); err != nil {
		p.txn = newTxn(p.store)
		return p.failErr(err)
	}
	p.txn = newTxn(p.store)
	return p.writeln(".")
}

func (p *processor) cmdRollback() error {
	p.txn = newTxn(p.store)
	return p.writeln(".")
}

func (p *processor) cmdCheckpoint(id string) error {
	if err := p.txn.checkpoint(data.Id(id)); err != nil {
		return p.failErr(err)
	}
	return p.writeln(".")
}

func (p *processor) cmdCheckout(id string) error {
	if err := p.txn.checkout(data.Id(id)); err != nil {
		return p.failErr(err)
	}
	return p.writeln(".")
}

func (p *processor) cmdRestore(rest string) error {
	id, version, _ := strings.Cut(rest, " ")
	stale, err := p.txn.restore(data.Id(id), version)
	if err != nil {
		return p.failErr(err)
	}
	strs := make([]string, len(stale))
	for i, s := range stale {
		strs[i] = s.String()
	}
	return p.writeln("." + strings.Join(strs, ","))
}

func (p *processor) cmdPath(id string) error {
	path, err := p.pathOf(data.Id(id))
	if err != nil {
		return p.failErr(err)
	}
	return p.writeln(path)
}

func (p *processor) pathOf(id data.Id) (string, error) {
	var parts []string
	for id != "" {
		rec, err := p.txn.get(id)
		if err != nil {
			return "", err
		}
		if rec == nil {
			return "", capsuled.ErrNotFound.New("No uuid '%s'", id)
		}
		if rec.Parent == "" {
			break
		}
		parts = append([]string{rec.Name}, parts...)
		id = rec.Parent
	}
	return "/" + strings.Join(parts, "/"), nil
}

func (p *processor) cmdSearch(rest string) error {
	name, value, ok := strings.Cut(rest, " ")
	if !ok {
		return p.fail("Bad search request.")
	}
	type hit struct {
		id   data.Id
		path string
	}
	var hits []hit
	err := p.store.ForEach(func(rec *nodeRec) error {
		prop, ok := rec.Props[name]
		if !ok {
			return nil
		}
		if v, okStr := decodeValue(prop).(data.String); !okStr || string(v) != value {
			return nil
		}
		path, err := p.pathOf(rec.Id)
		if err != nil {
			return err
		}
		hits = append(hits, hit{id: rec.Id, path: path})
		return nil
	})
	if err != nil {
		return p.failErr(err)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].path < hits[j].path })
	for _, h := range hits {
		if err := p.writeln(h.id.String() + " " + h.path); err != nil {
			return err
		}
	}
	return p.writeln(".")
}

