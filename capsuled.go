// Copyright (c) 2019-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package capsuled

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/errs"
)

// Error classes shared by the client and server sides. Callers test
// membership with Class.Has.
var (
	// ErrProtocol covers unexpected line prefixes, unknown value tags
	// and bad frame terminators. Fatal to the transaction.
	ErrProtocol = errs.Class("protocol error")

	// ErrConflict is raised when the repository refuses a prepare or
	// commit.
	ErrConflict = errs.Class("conflict")

	// ErrNotFound covers lookups of unknown ids, paths or children.
	ErrNotFound = errs.Class("not found")

	// ErrSchema covers CND compilation failures and schema violations
	// raised synchronously to the caller.
	ErrSchema = errs.Class("schema error")

	// ErrUnsupported marks explicitly unimplemented surfaces
	// (export/import, deferred property fetch, pending events).
	ErrUnsupported = errs.Class("unsupported")
)

// Config holds the knobs shared by the client stack. The server daemon
// carries its own config in cmd/capsuled.
type Config struct {
	Network   string // "tcp" or "unix"
	Address   string
	Workspace string
	CacheSize int
	PoolSize  int
}

// Context carries per-connection logging handles, one entry per
// severity in the manner of the daemon's Dlog/Elog/Wlog split.
type Context struct {
	Dlog *logrus.Entry
	Elog *logrus.Entry
	Wlog *logrus.Entry
}

func NewContext(log *logrus.Logger) *Context {
	if log == nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
	}
	return &Context{
		Dlog: log.WithField("sev", "debug"),
		Elog: log.WithField("sev", "error"),
		Wlog: log.WithField("sev", "warning"),
	}
}

// NewLogger builds a logger for the given level and format ("text" or
// "json").
func NewLogger(level, format string) *logrus.Logger {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	if strings.ToLower(format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
