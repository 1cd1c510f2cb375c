// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package db bootstraps the client stack: it dials controllers, pools
// sessions, and loads the schema registry once on first login.
package db

import (
	"io"
	"strings"
	"sync"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/client"
	"github.com/capsule/capsuled/cnd"
	"github.com/capsule/capsuled/schema"
	"github.com/capsule/capsuled/session"
	"github.com/sirupsen/logrus"
)

// DialFunc opens a fresh controller connection.
type DialFunc func() (session.Controller, error)

// DB hands out pooled sessions against one workspace. The schema
// registry is built by the first session and shared read-only
// afterwards.
type DB struct {
	cfg  capsuled.Config
	ctx  *capsuled.Context
	dial DialFunc

	mu      sync.Mutex
	loaded  bool
	schemas *schema.Manager

	pool chan *session.Connection
}

// Open builds a DB dialing the configured endpoint.
func Open(cfg capsuled.Config, log *logrus.Logger) *DB {
	return OpenWith(cfg, capsuled.NewContext(log), func() (session.Controller, error) {
		ctrl, err := client.Dial(cfg.Network, cfg.Address)
		if err != nil {
			return nil, err
		}
		return ctrl, nil
	})
}

// OpenWith builds a DB with an explicit dialer; tests inject the
// in-memory fake here.
func OpenWith(cfg capsuled.Config, ctx *capsuled.Context, dial DialFunc) *DB {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 7
	}
	return &DB{
		cfg:     cfg,
		ctx:     ctx,
		dial:    dial,
		schemas: schema.NewManager(),
		pool:    make(chan *session.Connection, poolSize),
	}
}

// GetSchema implements session.Registry.
func (db *DB) GetSchema(name string) *schema.Schema {
	return db.schemas.Get(name)
}

// GetClass implements session.Registry.
func (db *DB) GetClass(name string) (schema.ClassKind, bool) {
	return db.schemas.Class(name)
}

// OpenSession returns a pooled session, dialing and logging in a new
// one when the pool is empty.
func (db *DB) OpenSession() (*session.Connection, error) {
	select {
	case conn := <-db.pool:
		return conn, nil
	default:
	}

	ctrl, err := db.dial()
	if err != nil {
		return nil, err
	}
	conn, err := session.Open(ctrl, db, db.ctx, db.cfg.Workspace, db.cfg.CacheSize)
	if err != nil {
		closeController(ctrl)
		return nil, err
	}
	if err := db.loadSchemas(ctrl); err != nil {
		closeController(ctrl)
		return nil, err
	}
	return conn, nil
}

// Release returns a session to the pool. When the pool is full the
// session's controller is closed instead.
func (db *DB) Release(conn *session.Connection) {
	select {
	case db.pool <- conn:
	default:
		closeController(conn.Controller())
	}
}

// Close drains the pool and closes the pooled controllers.
func (db *DB) Close() {
	for {
		select {
		case conn := <-db.pool:
			closeController(conn.Controller())
		default:
			return
		}
	}
}

func closeController(ctrl session.Controller) {
	if closer, ok := ctrl.(io.Closer); ok {
		closer.Close()
	}
}

// loadSchemas fetches the repository's CND definitions and builds the
// registry, once. The lock only guards bootstrap; the registry is
// frozen afterwards.
func (db *DB) loadSchemas(ctrl session.Controller) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.loaded {
		return nil
	}

	defs, err := ctrl.GetNodeTypeDefs()
	if err != nil {
		return err
	}
	compiler := cnd.NewCompiler()
	if _, err := compiler.AddData(defs); err != nil {
		return err
	}

	for _, name := range compiler.Names() {
		s := compiler.Schema(name)
		if s == nil {
			continue
		}
		db.schemas.Add(s)
		if kind, ok := classify(name, s); ok {
			db.schemas.SetClass(name, kind)
		}
	}
	// The workspace root is always representable even when the server
	// omits the system types from its definitions.
	db.schemas.SetClass("rep:root", schema.ClassWorkspace)
	db.schemas.SetClass("nt:unstructured", schema.ClassDocument)

	db.loaded = true
	return nil
}

// classify picks the runtime representation for a compiled type.
// System namespaces stay unclassified apart from the explicit
// exceptions above.
func classify(name string, s *schema.Schema) (schema.ClassKind, bool) {
	if name == "rep:root" {
		return schema.ClassWorkspace, true
	}
	if strings.HasPrefix(name, "nt:") || strings.HasPrefix(name, "mix:") ||
		strings.HasPrefix(name, "rep:") {
		return 0, false
	}
	if name == "ecmnt:children" {
		return schema.ClassChildren, true
	}
	if s.Extends("ecmnt:document") {
		return schema.ClassDocument, true
	}
	if s.IsContainer() {
		// A plain container type is the backing type of homogeneous
		// list properties.
		return schema.ClassListProperty, true
	}
	return schema.ClassObjectProperty, true
}

