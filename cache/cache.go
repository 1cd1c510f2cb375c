// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package cache provides the per-session identity map. Entries are
// never removed by garbage collection; they are turned back into
// ghosts, which keeps the identity-map invariant while bounding the
// amount of loaded state.
package cache

import (
	"container/list"

	"github.com/capsule/capsuled/data"
)

// Ghostable is the view of a persistent object the cache needs:
// enough to drop its loaded state and to tell whether dropping it
// would lose anything.
type Ghostable interface {
	Id() data.Id
	IsGhost() bool
	Ghostify()
}

type entry struct {
	obj Ghostable
	lru *list.Element
}

// Cache is a capacity-bounded identity map owned by a single session.
// It is not safe for concurrent use.
type Cache struct {
	target  int
	entries map[data.Id]*entry
	// Most recently used at the front.
	recency *list.List
}

func New(target int) *Cache {
	if target <= 0 {
		target = 1000
	}
	return &Cache{
		target:  target,
		entries: make(map[data.Id]*entry),
		recency: list.New(),
	}
}

// Get returns the object for an id, or nil. A hit refreshes the
// entry's recency.
func (c *Cache) Get(id data.Id) Ghostable {
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	c.recency.MoveToFront(e.lru)
	return e.obj
}

// Set inserts or replaces the object for an id.
func (c *Cache) Set(id data.Id, obj Ghostable) {
	if e, ok := c.entries[id]; ok {
		e.obj = obj
		c.recency.MoveToFront(e.lru)
		return
	}
	e := &entry{obj: obj}
	e.lru = c.recency.PushFront(id)
	c.entries[id] = e
}

// Delete removes an entry outright; used when an aborted transaction
// disowns created objects.
func (c *Cache) Delete(id data.Id) {
	e, ok := c.entries[id]
	if !ok {
		return
	}
	c.recency.Remove(e.lru)
	delete(c.entries, id)
}

// Invalidate turns the entry for an id into a ghost without evicting
// it from the map.
func (c *Cache) Invalidate(id data.Id) {
	if e, ok := c.entries[id]; ok {
		e.obj.Ghostify()
	}
}

// Len reports the number of mapped ids, ghosts included.
func (c *Cache) Len() int { return len(c.entries) }

// Loaded reports the number of non-ghost entries.
func (c *Cache) Loaded() int {
	n := 0
	for _, e := range c.entries {
		if !e.obj.IsGhost() {
			n++
		}
	}
	return n
}

// IncrGC reduces the loaded count toward the target size by
// ghostifying least-recently-used entries. pinned ids are skipped;
// the session pins objects added in the current transaction.
func (c *Cache) IncrGC(pinned func(data.Id) bool) {
	excess := c.Loaded() - c.target
	if excess <= 0 {
		return
	}
	for el := c.recency.Back(); el != nil && excess > 0; el = el.Prev() {
		id := el.Value.(data.Id)
		e := c.entries[id]
		if e.obj.IsGhost() {
			continue
		}
		if pinned != nil && pinned(id) {
			continue
		}
		e.obj.Ghostify()
		excess--
	}
}
