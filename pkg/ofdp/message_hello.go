// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ofdp

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// HELLO is the message header code for the device's identification message.
const HELLO uint8 = 0x01

// HELLO_ACK is the message header code for the gateway's handshake answer.
const HELLO_ACK uint8 = 0x02

// HelloMessage opens a session: it identifies the device, declares the
// application protocol version and offers key material for the session
// cipher negotiation. It is always sent in plaintext.
type HelloMessage struct {
	PVA       uint16
	KktRegId  [20]byte
	Suites    uint8
	PublicKey [32]byte
	Nonce     [16]byte
}

// NewHelloMessage creates a HelloMessage with the given fields.
func NewHelloMessage(pva uint16, kktRegId string, suites uint8, publicKey [32]byte, nonce [16]byte) *HelloMessage {
	msg := &HelloMessage{
		PVA:       pva,
		Suites:    suites,
		PublicKey: publicKey,
		Nonce:     nonce,
	}
	copy(msg.KktRegId[:], []byte(strings.Repeat(" ", 20)))
	copy(msg.KktRegId[:], kktRegId)
	return msg
}

// RegId is the trimmed KKT registration number.
func (hm *HelloMessage) RegId() string {
	return strings.TrimSpace(string(hm.KktRegId[:]))
}

func (hm *HelloMessage) String() string {
	return fmt.Sprintf("HELLO(pva=%#04x, kkt=%s, suites=%#02x)", hm.PVA, hm.RegId(), hm.Suites)
}

func (hm *HelloMessage) Marshal(w io.Writer) error {
	fields := []interface{}{
		HELLO,
		hm.PVA,
		hm.KktRegId,
		hm.Suites,
		hm.PublicKey,
		hm.Nonce,
	}

	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	return nil
}

func (hm *HelloMessage) Unmarshal(r io.Reader) error {
	var messageHeader uint8
	if err := binary.Read(r, binary.LittleEndian, &messageHeader); err != nil {
		return err
	} else if messageHeader != HELLO {
		return fmt.Errorf("HELLO's message header is wrong: %#02x instead of %#02x", messageHeader, HELLO)
	}

	fields := []interface{}{&hm.PVA, &hm.KktRegId, &hm.Suites, &hm.PublicKey, &hm.Nonce}
	for _, field := range fields {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	return nil
}

// Handshake status codes carried in a HelloAckMessage.
const (
	// HelloStatusOk accepts the session.
	HelloStatusOk uint8 = 0

	// HelloStatusUnsupportedVersion rejects the declared application
	// protocol version; the session is closed afterwards.
	HelloStatusUnsupportedVersion uint8 = 1

	// HelloStatusNoCommonCipher rejects the offered cipher suites.
	HelloStatusNoCommonCipher uint8 = 2

	// HelloStatusMalformed rejects an unparsable handshake payload.
	HelloStatusMalformed uint8 = 3
)

// HelloAckMessage answers a HelloMessage, either confirming the accepted
// version and selected cipher together with the gateway's key material, or
// carrying a rejection status.
type HelloAckMessage struct {
	Status    uint8
	PVA       uint16
	Suite     uint8
	PublicKey [32]byte
	Nonce     [16]byte
}

// NewHelloAckMessage creates a positive handshake answer.
func NewHelloAckMessage(pva uint16, suite uint8, publicKey [32]byte, nonce [16]byte) *HelloAckMessage {
	return &HelloAckMessage{
		Status:    HelloStatusOk,
		PVA:       pva,
		Suite:     suite,
		PublicKey: publicKey,
		Nonce:     nonce,
	}
}

// NewHelloRejectMessage creates a negative handshake answer.
func NewHelloRejectMessage(status uint8) *HelloAckMessage {
	return &HelloAckMessage{Status: status}
}

// Ok reports if the handshake was accepted.
func (ham *HelloAckMessage) Ok() bool {
	return ham.Status == HelloStatusOk
}

func (ham *HelloAckMessage) String() string {
	return fmt.Sprintf("HELLO_ACK(status=%d, pva=%#04x, suite=%#02x)", ham.Status, ham.PVA, ham.Suite)
}

func (ham *HelloAckMessage) Marshal(w io.Writer) error {
	fields := []interface{}{
		HELLO_ACK,
		ham.Status,
		ham.PVA,
		ham.Suite,
		ham.PublicKey,
		ham.Nonce,
	}

	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	return nil
}

func (ham *HelloAckMessage) Unmarshal(r io.Reader) error {
	var messageHeader uint8
	if err := binary.Read(r, binary.LittleEndian, &messageHeader); err != nil {
		return err
	} else if messageHeader != HELLO_ACK {
		return fmt.Errorf("HELLO_ACK's message header is wrong: %#02x instead of %#02x", messageHeader, HELLO_ACK)
	}

	fields := []interface{}{&ham.Status, &ham.PVA, &ham.Suite, &ham.PublicKey, &ham.Nonce}
	for _, field := range fields {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	return nil
}
