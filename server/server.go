// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"errors"
	"io"
	"net"

	"github.com/capsule/capsuled/rpc"
	"github.com/sirupsen/logrus"
)

// Srv accepts repository connections and runs one processor per
// connection. Cross-session serialization happens in the store.
type Srv struct {
	listener net.Listener
	store    *Store
	log      *logrus.Logger
}

func NewSrv(listener net.Listener, store *Store, log *logrus.Logger) *Srv {
	if log == nil {
		log = logrus.New()
	}
	return &Srv{listener: listener, store: store, log: log}
}

// Serve accepts connections until the listener closes.
func (s *Srv) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting; in-flight connections run to completion.
func (s *Srv) Close() error {
	return s.listener.Close()
}

// handle is the per-connection loop: welcome banner, then one command
// line at a time until EOF or quit.
func (s *Srv) handle(conn net.Conn) {
	defer conn.Close()
	log := s.log.WithField("peer", conn.RemoteAddr().String())
	f := rpc.NewFrame(conn)
	if err := f.WriteLine("Welcome."); err != nil {
		log.WithError(err).Error("welcome failed")
		return
	}
	proc := newProcessor(f, s.store, log)
	for {
		line, err := f.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.WithError(err).Error("read failed")
			}
			return
		}
		if err := proc.process(line); err != nil {
			if _, quit := err.(quitError); quit {
				return
			}
			log.WithError(err).Error("connection failed")
			return
		}
	}
}
