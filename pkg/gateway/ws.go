// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ofdgate/ofdgate/pkg/ofdp"
	"github.com/ofdgate/ofdgate/pkg/session"
)

// WebsocketServer accepts sessions over WebSocket connections, for devices
// whose networks only pass HTTP. Each binary message carries a chunk of the
// frame stream; answers travel back as one binary message per frame.
type WebsocketServer struct {
	sessionCfg session.Config
	processor  session.Processor

	maxFrameLen int

	ctx    context.Context
	cancel context.CancelFunc

	httpServer *http.Server
	httpMux    *http.ServeMux
	upgrader   websocket.Upgrader
}

// NewWebsocketServer creates a WebsocketServer for the given listen address,
// serving sessions under /exchange. A non-positive maxFrameLen selects the
// protocol's default frame payload bound.
func NewWebsocketServer(address string, sessionCfg session.Config, processor session.Processor, maxFrameLen int) (ws *WebsocketServer, err error) {
	httpMux := http.NewServeMux()
	httpServer := &http.Server{
		Addr:    address,
		Handler: httpMux,
	}

	ctx, cancel := context.WithCancel(context.Background())

	ws = &WebsocketServer{
		sessionCfg:  sessionCfg,
		processor:   processor,
		maxFrameLen: maxFrameLen,

		ctx:    ctx,
		cancel: cancel,

		httpServer: httpServer,
		httpMux:    httpMux,
		upgrader:   websocket.Upgrader{},
	}

	httpMux.HandleFunc("/exchange", ws.exchangeHandler)

	startupErr := make(chan error)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			startupErr <- err
		}

		close(startupErr)
	}()

	select {
	case err = <-startupErr:
		cancel()
		ws = nil
	case <-time.After(100 * time.Millisecond):
	}

	return
}

func (ws *WebsocketServer) log() *log.Entry {
	return log.WithField("WebsocketServer", ws.httpServer.Addr)
}

// exchangeHandler will be called for each HTTP request to /exchange, the
// WebSocket session endpoint.
func (ws *WebsocketServer) exchangeHandler(rw http.ResponseWriter, r *http.Request) {
	conn, connErr := ws.upgrader.Upgrade(rw, r, nil)
	if connErr != nil {
		ws.log().WithError(connErr).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}
	defer conn.Close()

	logger := ws.log().WithField("conn", r.RemoteAddr)
	logger.Debug("WebSocket session was established")

	ctx, cancel := context.WithCancel(ws.ctx)
	defer cancel()

	machine := session.NewMachine(ws.sessionCfg, ws.processor)
	decoder := ofdp.NewDecoder(ws.maxFrameLen)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(ws.sessionCfg.IdleTimeout))

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			logger.WithError(err).Debug("WebSocket session read failed")
			return
		}
		if msgType != websocket.BinaryMessage {
			logger.Debug("Ignoring non-binary WebSocket message")
			continue
		}

		decoder.Push(data)
		for {
			f, err := decoder.Next()
			if err != nil {
				// A consumed frame with a bad checksum leaves the stream
				// aligned; an established session answers and carries on.
				var corruptErr *ofdp.CorruptError
				if errors.As(err, &corruptErr) && corruptErr.Aligned && machine.State() == session.Active {
					logger.WithError(err).Warn("Rejecting a corrupt frame")

					answer, fErr := machine.FaultCorrupt(err)
					if answer != nil {
						answerBytes, mErr := answer.Bytes()
						if mErr != nil {
							logger.WithError(mErr).Warn("Failed to marshal the answer frame")
							return
						}
						if wErr := conn.WriteMessage(websocket.BinaryMessage, answerBytes); wErr != nil {
							logger.WithError(wErr).Debug("WebSocket session write failed")
							return
						}
					}
					if fErr != nil || machine.State().Terminal() {
						return
					}
					continue
				}

				logger.WithError(err).Warn("Dropping WebSocket session after a corrupt frame")
				return
			}
			if f == nil {
				break
			}

			answer, err := machine.Handle(ctx, f)
			if answer != nil {
				answerBytes, mErr := answer.Bytes()
				if mErr != nil {
					logger.WithError(mErr).Warn("Failed to marshal the answer frame")
					return
				}
				if wErr := conn.WriteMessage(websocket.BinaryMessage, answerBytes); wErr != nil {
					logger.WithError(wErr).Debug("WebSocket session write failed")
					return
				}
			}
			if err != nil {
				logger.WithError(err).Debug("Session machine refused the frame")
				return
			}

			if machine.State().Terminal() {
				logger.WithField("state", machine.State()).Debug("WebSocket session ended")
				return
			}
		}
	}
}

// Address is this WebsocketServer's endpoint address.
func (ws *WebsocketServer) Address() string {
	return fmt.Sprintf("ws://%s/exchange", ws.httpServer.Addr)
}

// Close shuts this WebsocketServer down, unblocking in-flight storage
// appends.
func (ws *WebsocketServer) Close() {
	ws.cancel()
	_ = ws.httpServer.Close()
}
