// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ofdgate/ofdgate/pkg/ofdp"
	"github.com/ofdgate/ofdgate/pkg/session"
)

// terminationGrace bounds the wait for a device's termination reply.
const terminationGrace = 10 * time.Second

// streamIO is a stream transport carrying one session: a TCP connection or
// a QUIC stream.
type streamIO interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
}

// runSession drives one session over a stream transport until its machine
// reaches a terminal state or the stream dies. The parent context is
// canceled on server shutdown; the session's own context dies with the
// connection, unblocking an in-flight storage append.
func runSession(parent context.Context, conn streamIO, remote string, sessionCfg session.Config, processor session.Processor, maxFrameLen int) {
	logger := log.WithField("conn", remote)
	logger.Debug("Gateway connection was established")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	machine := session.NewMachine(sessionCfg, processor)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(sessionCfg.IdleTimeout))

		f, err := ofdp.ReadFrame(conn, maxFrameLen)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if machine.State() == session.Closing {
					logger.Debug("No termination reply arrived, dropping connection")
					return
				}

				term, expErr := machine.Expire()
				if expErr != nil || term == nil {
					return
				}
				if err := term.Marshal(conn); err != nil {
					logger.WithError(err).Debug("Failed to send idle termination")
					return
				}

				_ = conn.SetReadDeadline(time.Now().Add(terminationGrace))
				continue
			}

			var corruptErr *ofdp.CorruptError
			if errors.As(err, &corruptErr) {
				// A consumed frame with a bad checksum leaves the stream
				// aligned; an established session answers and carries on.
				if corruptErr.Aligned && machine.State() == session.Active {
					logger.WithError(err).Warn("Rejecting a corrupt frame")

					answer, fErr := machine.FaultCorrupt(err)
					if answer != nil {
						if wErr := answer.Marshal(conn); wErr != nil {
							logger.WithError(wErr).Debug("Gateway connection write failed")
							return
						}
					}
					if fErr != nil || machine.State().Terminal() {
						return
					}
					continue
				}

				logger.WithError(err).Warn("Dropping connection after a corrupt frame")
			} else if err != io.EOF {
				logger.WithError(err).Debug("Gateway connection read failed")
			}
			return
		}

		answer, err := machine.Handle(ctx, f)
		if answer != nil {
			if wErr := answer.Marshal(conn); wErr != nil {
				logger.WithError(wErr).Debug("Gateway connection write failed")
				return
			}
		}
		if err != nil {
			logger.WithError(err).Debug("Session machine refused the frame")
			return
		}

		if machine.State().Terminal() {
			logger.WithField("state", machine.State()).Debug("Session ended")
			return
		}
	}
}
