// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"golang.org/x/time/rate"

	"github.com/ledgerstream/ledgerstream/internal/broker"
	"github.com/ledgerstream/ledgerstream/internal/config"
	"github.com/ledgerstream/ledgerstream/internal/dispatch"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// tcpServer is the broker's single concrete transport: a thin loop that
// delimits frames and hands them to the dispatch layer. Heavier transports
// (QUIC, HTTP) are external collaborators of the same dispatch surface.
type tcpServer struct {
	sys      *broker.System
	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func newTCPServer(sys *broker.System) *tcpServer {
	return &tcpServer{sys: sys, conns: make(map[net.Conn]struct{})}
}

func (srv *tcpServer) serve(listener net.Listener) {
	srv.listener = listener
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			cclog.Warnf("[SERVER]> accept: %v", err)
			continue
		}
		srv.mu.Lock()
		srv.conns[conn] = struct{}{}
		srv.mu.Unlock()
		srv.wg.Add(1)
		go srv.handleConn(conn)
	}
}

func (srv *tcpServer) handleConn(conn net.Conn) {
	defer srv.wg.Done()
	defer func() {
		srv.mu.Lock()
		delete(srv.conns, conn)
		srv.mu.Unlock()
		conn.Close()
	}()

	session := srv.sys.Clients().Accept(conn.RemoteAddr().String())
	defer srv.sys.Disconnect(session)
	cclog.Debugf("[SERVER]> client %d connected from %s", session.ClientID, session.Address)

	var limiter *rate.Limiter
	if config.Keys.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.Keys.RateLimit), config.Keys.RateBurst)
	}

	for {
		req, err := wire.ReadRequestFramed(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				cclog.Debugf("[SERVER]> client %d read: %v", session.ClientID, err)
			}
			return
		}
		if limiter != nil {
			if err := limiter.Wait(context.Background()); err != nil {
				return
			}
		}

		resp := dispatch.Handle(req, session, srv.sys)
		if _, err := resp.WriteTo(conn); err != nil {
			cclog.Debugf("[SERVER]> client %d write: %v", session.ClientID, err)
			return
		}
	}
}

// shutdown closes the listener and every live connection, then waits for
// the handler goroutines to drain.
func (srv *tcpServer) shutdown() {
	if srv.listener != nil {
		srv.listener.Close()
	}
	srv.mu.Lock()
	for conn := range srv.conns {
		conn.Close()
	}
	srv.mu.Unlock()
	srv.wg.Wait()
}
