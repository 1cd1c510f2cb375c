// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package server implements the repository side: a bbolt-backed node
// store, per-connection sessions replaying batched mutation blocks
// inside an optimistic transaction, and the line-protocol listener.
package server

import (
	"encoding/json"
	"time"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes      = []byte("nodes")
	bucketWorkspaces = []byte("workspaces")
)

// childEntry is one ordered child slot of a stored node.
type childEntry struct {
	Name string  `json:"name"`
	Id   data.Id `json:"id"`
}

// versionRec is one checked-in snapshot of a node's properties.
type versionRec struct {
	Name  string             `json:"name"`
	Props map[string]propRec `json:"props,omitempty"`
}

// nodeRec is the stored form of one node. Rev is bumped on every
// commit that touches the node and drives optimistic conflict
// detection.
type nodeRec struct {
	Id       data.Id            `json:"id"`
	Name     string             `json:"name"`
	Type     string             `json:"type"`
	Parent   data.Id            `json:"parent,omitempty"`
	Children []childEntry       `json:"children,omitempty"`
	Props    map[string]propRec `json:"props,omitempty"`
	Versions []versionRec       `json:"versions,omitempty"`
	Rev      uint64             `json:"rev"`
}

func (r *nodeRec) clone() *nodeRec {
	out := *r
	out.Children = append([]childEntry(nil), r.Children...)
	out.Props = cloneProps(r.Props)
	out.Versions = append([]versionRec(nil), r.Versions...)
	return &out
}

func cloneProps(props map[string]propRec) map[string]propRec {
	out := make(map[string]propRec, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// propRec is the JSON form of a typed value.
type propRec struct {
	Kind  string    `json:"kind"`
	Str   string    `json:"str,omitempty"`
	Bytes []byte    `json:"bytes,omitempty"`
	Int   int64     `json:"int,omitempty"`
	Float float64   `json:"float,omitempty"`
	Bool  bool      `json:"bool,omitempty"`
	Time  time.Time `json:"time,omitempty"`
	Multi []propRec `json:"multi,omitempty"`
}

func encodeValue(v data.Value) propRec {
	switch val := v.(type) {
	case data.String:
		return propRec{Kind: "string", Str: string(val)}
	case data.Blob:
		return propRec{Kind: "binary", Bytes: []byte(val)}
	case data.Long:
		return propRec{Kind: "long", Int: int64(val)}
	case data.Double:
		return propRec{Kind: "double", Float: float64(val)}
	case data.Bool:
		return propRec{Kind: "boolean", Bool: bool(val)}
	case data.Date:
		return propRec{Kind: "date", Time: val.Time()}
	case data.Name:
		return propRec{Kind: "name", Str: string(val)}
	case data.Path:
		return propRec{Kind: "path", Str: string(val)}
	case data.Reference:
		return propRec{Kind: "reference", Str: val.Target().String()}
	case data.Multi:
		rec := propRec{Kind: "multi"}
		for _, e := range val {
			rec.Multi = append(rec.Multi, encodeValue(e))
		}
		return rec
	}
	return propRec{Kind: "undefined"}
}

func decodeValue(rec propRec) data.Value {
	switch rec.Kind {
	case "string":
		return data.String(rec.Str)
	case "binary":
		return data.Blob(rec.Bytes)
	case "long":
		return data.Long(rec.Int)
	case "double":
		return data.Double(rec.Float)
	case "boolean":
		return data.Bool(rec.Bool)
	case "date":
		return data.NewDate(rec.Time)
	case "name":
		return data.Name(rec.Str)
	case "path":
		return data.Path(rec.Str)
	case "reference":
		return data.Reference(rec.Str)
	case "multi":
		multi := data.Multi{}
		for _, e := range rec.Multi {
			multi = append(multi, decodeValue(e))
		}
		return multi
	}
	return nil
}

// Store is the persistent node tree.
type Store struct {
	db *bolt.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNodes); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketWorkspaces)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureWorkspace returns the root node id of a workspace, creating
// the root on first login.
func (s *Store) EnsureWorkspace(name string) (data.Id, error) {
	var rootId data.Id
	err := s.db.Update(func(tx *bolt.Tx) error {
		ws := tx.Bucket(bucketWorkspaces)
		if raw := ws.Get([]byte(name)); raw != nil {
			rootId = data.Id(raw)
			return nil
		}
		rootId = data.Id(uuid.NewString())
		root := &nodeRec{
			Id:    rootId,
			Name:  "",
			Type:  "rep:root",
			Props: map[string]propRec{"jcr:primaryType": {Kind: "name", Str: "rep:root"}},
		}
		if err := putNode(tx, root); err != nil {
			return err
		}
		return ws.Put([]byte(name), []byte(rootId))
	})
	return rootId, err
}

// GetNode loads one node, or nil when absent.
func (s *Store) GetNode(id data.Id) (*nodeRec, error) {
	var rec *nodeRec
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getNode(tx, id)
		return err
	})
	return rec, err
}

// Revisions returns the current revision of each id; missing nodes
// report zero.
func (s *Store) Revisions(ids []data.Id) (map[data.Id]uint64, error) {
	revs := make(map[data.Id]uint64, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, id := range ids {
			rec, err := getNode(tx, id)
			if err != nil {
				return err
			}
			if rec != nil {
				revs[id] = rec.Rev
			}
		}
		return nil
	})
	return revs, err
}

// ApplyOverlay writes a transaction's working set in one update:
// every surviving node with a bumped revision, every deleted id
// removed.
func (s *Store) ApplyOverlay(nodes map[data.Id]*nodeRec, deleted map[data.Id]bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		for id := range deleted {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		for id, rec := range nodes {
			if deleted[id] {
				continue
			}
			rec.Rev++
			if err := putNode(tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEach walks every stored node; used by property search.
func (s *Store) ForEach(fn func(rec *nodeRec) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var rec nodeRec
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			return fn(&rec)
		})
	})
}

func getNode(tx *bolt.Tx, id data.Id) (*nodeRec, error) {
	raw := tx.Bucket(bucketNodes).Get([]byte(id))
	if raw == nil {
		return nil, nil
	}
	var rec nodeRec
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, capsuled.ErrProtocol.Wrap(err)
	}
	return &rec, nil
}

func putNode(tx *bolt.Tx, rec *nodeRec) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketNodes).Put([]byte(rec.Id), raw)
}
