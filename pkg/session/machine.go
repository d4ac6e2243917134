// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ofdgate/ofdgate/pkg/cipher"
	"github.com/ofdgate/ofdgate/pkg/ofdp"
)

// ErrTerminated is returned for frames arriving after the session reached a
// terminal state.
var ErrTerminated = errors.New("session is terminated")

// Processor answers a document message. The Dispatcher satisfies this.
type Processor interface {
	Process(ctx context.Context, regId, version string, dm *ofdp.DocMessage) ofdp.Message
}

// Config carries the session parameters shared by all connections.
type Config struct {
	// AllowedSuites is the bitmask of acceptable cipher suites.
	AllowedSuites uint8

	// FaultThreshold is the number of protocol faults after which the
	// session is torn down.
	FaultThreshold int

	// IdleTimeout closes a session without traffic. The transport's read
	// deadline enforces it; the Machine only reports it on Expire.
	IdleTimeout time.Duration
}

// DefaultConfig returns the Config the gateway starts from.
func DefaultConfig() Config {
	return Config{
		AllowedSuites:  uint8(cipher.SuiteNone | cipher.SuiteAESGCM | cipher.SuiteChaCha20),
		FaultThreshold: 3,
		IdleTimeout:    5 * time.Minute,
	}
}

// Machine is the protocol state machine of one session. It is not safe for
// concurrent use; each connection owns one Machine and calls it from its
// read loop.
type Machine struct {
	cfg       Config
	processor Processor

	state State

	device  string
	regId   string
	pva     uint16
	version string

	cipher cipher.Cipher

	lastSeq  uint32
	seenSeq  bool
	lastDoc  ofdp.Message
	seqGaps  uint64
	faults   int

	logger *log.Entry
}

// NewMachine creates a Machine in its initial state.
func NewMachine(cfg Config, processor Processor) *Machine {
	return &Machine{
		cfg:       cfg,
		processor: processor,
		state:     AwaitingHello,
		logger:    log.WithField("session", "new"),
	}
}

// State is the session's current state.
func (m *Machine) State() State {
	return m.state
}

// Device is the fiscal drive serial, known after the first frame.
func (m *Machine) Device() string {
	return m.device
}

// Version is the negotiated FFD version name, known after the handshake.
func (m *Machine) Version() string {
	return m.version
}

// SequenceGaps counts observed jumps in the document sequence.
func (m *Machine) SequenceGaps() uint64 {
	return m.seqGaps
}

// Handle feeds one received frame into the machine. The returned frame, if
// any, must be sent back over the same connection. After Handle, a terminal
// State tells the caller to drop the connection.
func (m *Machine) Handle(ctx context.Context, f *ofdp.Frame) (*ofdp.Frame, error) {
	if m.state.Terminal() {
		return nil, ErrTerminated
	}

	if m.device == "" {
		m.device = f.DeviceId()
		m.logger = log.WithField("device", m.device)
	} else if f.DeviceId() != m.device {
		return m.fault(fmt.Errorf("frame claims device %s within %s's session", f.DeviceId(), m.device))
	}

	// The application protocol version is pinned by the handshake, like the
	// device identity.
	if m.pva != 0 && f.PVA != m.pva {
		return m.fault(fmt.Errorf("frame claims protocol version %#04x after %#04x was declared", f.PVA, m.pva))
	}

	payload := f.Payload
	if f.Enciphered() {
		if m.cipher == nil {
			return m.fault(fmt.Errorf("enciphered frame before the handshake"))
		}

		plaintext, err := m.cipher.Decrypt(payload)
		if err != nil {
			return m.fault(err)
		}
		payload = plaintext
	} else if m.state == Active && m.cipher.Suite() != cipher.SuiteNone {
		return m.fault(fmt.Errorf("plaintext frame within an enciphered session"))
	}

	msg, err := ofdp.UnmarshalMessage(payload)
	if err != nil {
		if m.state == AwaitingHello {
			m.state = Closed
			return m.respond(ofdp.NewHelloRejectMessage(ofdp.HelloStatusMalformed))
		}
		return m.fault(err)
	}

	switch msg := msg.(type) {
	case *ofdp.HelloMessage:
		return m.handleHello(msg, f)

	case *ofdp.DocMessage:
		return m.handleDoc(ctx, msg)

	case *ofdp.SessionTerminationMessage:
		return m.handleTermination(msg)

	default:
		return m.fault(fmt.Errorf("unexpected message %v in state %v", msg, m.state))
	}
}

func (m *Machine) handleHello(hello *ofdp.HelloMessage, f *ofdp.Frame) (*ofdp.Frame, error) {
	if m.state != AwaitingHello {
		return m.fault(fmt.Errorf("hello within an established session"))
	}
	m.state = Handshaking
	m.pva = hello.PVA

	version, known := ofdp.VersionName(hello.PVA)
	if !known {
		m.logger.WithField("pva", fmt.Sprintf("%#04x", hello.PVA)).Info("Rejecting unsupported protocol version")

		m.state = Closed
		return m.respond(ofdp.NewHelloRejectMessage(ofdp.HelloStatusUnsupportedVersion))
	}

	suite, err := cipher.Negotiate(hello.Suites, m.cfg.AllowedSuites)
	if err != nil {
		m.logger.WithError(err).Info("Rejecting handshake without a common cipher")

		m.state = Closed
		return m.respond(ofdp.NewHelloRejectMessage(ofdp.HelloStatusNoCommonCipher))
	}

	keyPair, err := cipher.NewKeyPair()
	if err != nil {
		return nil, err
	}
	nonce, err := cipher.NewNonce()
	if err != nil {
		return nil, err
	}

	key, err := keyPair.SessionKey(hello.PublicKey, hello.Nonce, nonce)
	if err != nil {
		return m.fault(err)
	}

	m.cipher, err = cipher.New(suite, key)
	if err != nil {
		return nil, err
	}

	m.regId = hello.RegId()
	m.version = version
	m.state = Active
	m.logger = m.logger.WithFields(log.Fields{
		"kkt":     m.regId,
		"version": m.version,
	})
	m.logger.WithField("suite", suite).Info("Session established")

	// The hello acknowledgement travels in plaintext; the device cannot
	// derive the key before reading it.
	return m.plainRespond(ofdp.NewHelloAckMessage(m.pva, uint8(suite), keyPair.Public, nonce))
}

func (m *Machine) handleDoc(ctx context.Context, dm *ofdp.DocMessage) (*ofdp.Frame, error) {
	if m.state != Active {
		return m.fault(fmt.Errorf("document in state %v", m.state))
	}

	// A repeated sequence number is the device resending an unacknowledged
	// document; answer with the cached response instead of processing it
	// again.
	if m.seenSeq && dm.Seq == m.lastSeq && m.lastDoc != nil {
		m.logger.WithField("seq", dm.Seq).Debug("Replaying answer for a resent document")
		return m.respond(m.lastDoc)
	}

	if m.seenSeq && dm.Seq != m.lastSeq+1 {
		m.seqGaps++
		m.logger.WithFields(log.Fields{
			"seq":      dm.Seq,
			"expected": m.lastSeq + 1,
		}).Warn("Document sequence jumped")
	}

	answer := m.processor.Process(ctx, m.regId, m.version, dm)

	m.lastSeq = dm.Seq
	m.seenSeq = true
	m.lastDoc = answer

	// A nil answer means the session is being torn down; the document's
	// fate is audit-logged by the processor, not reported to the device.
	if answer == nil {
		return nil, nil
	}

	return m.respond(answer)
}

func (m *Machine) handleTermination(stm *ofdp.SessionTerminationMessage) (*ofdp.Frame, error) {
	if stm.IsReply() {
		if m.state != Closing {
			return m.fault(fmt.Errorf("termination reply without a pending termination"))
		}
		m.state = Closed
		return nil, nil
	}

	m.logger.WithField("reason", stm.Code).Info("Device terminated the session")

	m.state = Closed
	return m.respond(ofdp.NewSessionTerminationMessage(ofdp.TerminationReply, stm.Code))
}

// Expire starts the teardown of an idle session. The returned frame asks
// the device to confirm; the session closes on its reply or when the
// transport gives up waiting.
func (m *Machine) Expire() (*ofdp.Frame, error) {
	if m.state.Terminal() || m.state == Closing {
		return nil, nil
	}
	if m.state != Active {
		m.state = Closed
		return nil, nil
	}

	m.logger.Info("Expiring idle session")

	m.state = Closing
	return m.respond(ofdp.NewSessionTerminationMessage(0, ofdp.TerminationIdle))
}

// FaultCorrupt records a frame that failed its checksum but left the stream
// aligned. The transport calls this instead of Handle; the device gets a
// negative acknowledgement and the fault counts toward the threshold.
func (m *Machine) FaultCorrupt(cause error) (*ofdp.Frame, error) {
	if m.state.Terminal() {
		return nil, ErrTerminated
	}
	return m.faultCode(cause, ofdp.NackFrameCorrupt)
}

// fault records a protocol fault: an undecipherable payload, an identity or
// version mismatch, or a message the state does not expect.
func (m *Machine) fault(cause error) (*ofdp.Frame, error) {
	return m.faultCode(cause, ofdp.NackProtocolFault)
}

// faultCode answers a fault with a negative acknowledgement carrying the
// given code; at the threshold the session turns Faulted and answers with a
// termination instead.
func (m *Machine) faultCode(cause error, code uint8) (*ofdp.Frame, error) {
	m.faults++
	m.logger.WithError(cause).WithField("faults", m.faults).Warn("Protocol fault")

	if m.faults < m.cfg.FaultThreshold {
		return m.respond(ofdp.NewDocNackMessage(0, code, ""))
	}

	m.state = Faulted
	if m.cipher == nil {
		return nil, ErrTerminated
	}
	return m.respond(ofdp.NewSessionTerminationMessage(0, ofdp.TerminationFault))
}

// respond wraps a message into an answer frame, protected by the session
// cipher when one is established.
func (m *Machine) respond(msg ofdp.Message) (*ofdp.Frame, error) {
	payload, err := ofdp.MarshalMessage(msg)
	if err != nil {
		return nil, err
	}

	var flags uint16
	if m.cipher != nil && m.cipher.Suite() != cipher.SuiteNone {
		if payload, err = m.cipher.Encrypt(payload); err != nil {
			return nil, err
		}
		flags |= ofdp.FlagEnciphered
	}

	return ofdp.NewFrame(m.pva, m.device, flags, payload), nil
}

// plainRespond builds an answer frame without the session cipher.
func (m *Machine) plainRespond(msg ofdp.Message) (*ofdp.Frame, error) {
	payload, err := ofdp.MarshalMessage(msg)
	if err != nil {
		return nil, err
	}
	return ofdp.NewFrame(m.pva, m.device, 0, payload), nil
}
