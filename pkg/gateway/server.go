// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package gateway accepts device connections and runs their sessions. The
// plain TCP listener is the primary transport; WebSocket and QUIC listeners
// exist for devices behind restrictive networks.
package gateway

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ofdgate/ofdgate/pkg/session"
)

// Server is the TCP listener accepting KKT connections and running one
// session per connection.
type Server struct {
	listenAddress string
	sessionCfg    session.Config
	processor     session.Processor

	maxFrameLen int
	localAddr   string

	ctx    context.Context
	cancel context.CancelFunc

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewServer creates a new Server for the given listen address.
func NewServer(listenAddress string, sessionCfg session.Config, processor session.Processor) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		listenAddress: listenAddress,
		sessionCfg:    sessionCfg,
		processor:     processor,

		ctx:    ctx,
		cancel: cancel,

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}
}

// SetMaxFrameLen overrides the protocol's default frame payload bound.
func (serv *Server) SetMaxFrameLen(maxFrameLen int) {
	serv.maxFrameLen = maxFrameLen
}

// Start starts this Server and might return an error and a boolean
// indicating if another Start should be tried later.
func (serv *Server) Start() (error, bool) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", serv.listenAddress)
	if err != nil {
		return err, false
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return err, true
	}
	serv.localAddr = ln.Addr().String()

	go func(ln *net.TCPListener) {
		for {
			select {
			case <-serv.stopSyn:
				_ = ln.Close()
				close(serv.stopAck)

				return

			default:
				_ = ln.SetDeadline(time.Now().Add(50 * time.Millisecond))
				if conn, err := ln.Accept(); err == nil {
					go serv.handleConnection(conn)
				}
			}
		}
	}(ln)

	log.WithField("address", serv.listenAddress).Info("Gateway server started")
	return nil, true
}

func (serv *Server) handleConnection(conn net.Conn) {
	defer func() {
		_ = conn.Close()

		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"conn":  conn.RemoteAddr(),
				"error": r,
			}).Warn("Gateway connection handler failed")
		}
	}()

	runSession(serv.ctx, conn, conn.RemoteAddr().String(), serv.sessionCfg, serv.processor, serv.maxFrameLen)
}

// Address is this Server's listen address.
func (serv *Server) Address() string {
	return fmt.Sprintf("tcp://%s", serv.listenAddress)
}

// LocalAddr is the bound address, useful when listening on port zero.
func (serv *Server) LocalAddr() string {
	return serv.localAddr
}

func (serv *Server) String() string {
	return serv.Address()
}

// Close shuts this Server down, unblocking in-flight storage appends.
func (serv *Server) Close() {
	serv.cancel()

	close(serv.stopSyn)
	<-serv.stopAck
}
