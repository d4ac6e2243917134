// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/ofdgate/ofdgate/pkg/session"
)

// QUICServer accepts sessions over QUIC. Each connection's first
// bidirectional stream carries the frame stream, exactly like a TCP
// connection does.
type QUICServer struct {
	listenAddress string
	sessionCfg    session.Config
	processor     session.Processor

	maxFrameLen int

	ctx    context.Context
	cancel context.CancelFunc

	listener *quic.Listener
}

// NewQUICServer creates a QUICServer for the given listen address.
func NewQUICServer(listenAddress string, sessionCfg session.Config, processor session.Processor) *QUICServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &QUICServer{
		listenAddress: listenAddress,
		sessionCfg:    sessionCfg,
		processor:     processor,

		ctx:    ctx,
		cancel: cancel,
	}
}

// SetMaxFrameLen overrides the protocol's default frame payload bound.
func (serv *QUICServer) SetMaxFrameLen(maxFrameLen int) {
	serv.maxFrameLen = maxFrameLen
}

// Start starts this QUICServer and might return an error and a boolean
// indicating if another Start should be tried later.
func (serv *QUICServer) Start() (error, bool) {
	ln, err := quic.ListenAddr(serv.listenAddress, generateListenerTLSConfig(), generateQUICConfig(serv.sessionCfg.IdleTimeout))
	if err != nil {
		return err, true
	}

	serv.listener = ln
	go serv.handle()

	log.WithField("address", serv.listenAddress).Info("Gateway QUIC server started")
	return nil, true
}

func (serv *QUICServer) handle() {
	for {
		conn, err := serv.listener.Accept(context.Background())
		if err != nil {
			if err.Error() == "quic: Server closed" {
				return
			}

			log.WithFields(log.Fields{
				"address": serv.listenAddress,
				"error":   err,
			}).Error("Unknown error accepting QUIC connection")
			continue
		}

		go serv.handleConnection(conn)
	}
}

func (serv *QUICServer) handleConnection(conn quic.Connection) {
	logger := log.WithField("conn", conn.RemoteAddr())

	stream, err := conn.AcceptStream(context.Background())
	if err != nil {
		logger.WithError(err).Debug("Accepting the QUIC session stream failed")
		return
	}
	defer func() {
		_ = stream.Close()

		if r := recover(); r != nil {
			logger.WithField("error", r).Warn("Gateway QUIC handler failed")
		}
	}()

	runSession(serv.ctx, stream, conn.RemoteAddr().String(), serv.sessionCfg, serv.processor, serv.maxFrameLen)
}

// Address is this QUICServer's listen address.
func (serv *QUICServer) Address() string {
	return fmt.Sprintf("quic://%s", serv.listenAddress)
}

// Close shuts this QUICServer down, unblocking in-flight storage appends.
func (serv *QUICServer) Close() {
	serv.cancel()

	if serv.listener != nil {
		_ = serv.listener.Close()
	}
}

// generateListenerTLSConfig builds a TLS config around a fresh self-signed
// certificate. Devices authenticate through the application handshake, so
// the dialer skips certificate verification.
func generateListenerTLSConfig() *tls.Config {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.WithError(err).Fatal("Error generating private key")
	}
	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		log.WithError(err).Fatal("Error generating certificate")
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		log.WithError(err).Fatal("Error generating combined certificate")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{"ofdgate"},
		MinVersion:   tls.VersionTLS13,
	}
}

// generateDialerTLSConfig builds the matching dialer config, accepting the
// listener's self-signed certificate.
func generateDialerTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"ofdgate"},
	}
}

func generateQUICConfig(idleTimeout time.Duration) *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 15 * time.Second,
		MaxIdleTimeout:  idleTimeout + terminationGrace,
	}
}
