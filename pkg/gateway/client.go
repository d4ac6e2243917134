// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package gateway

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/ofdgate/ofdgate/pkg/cipher"
	"github.com/ofdgate/ofdgate/pkg/ofdp"
)

// Client plays the device's side of a session. The KKT emulator is built
// on it, as are the gateway's own tests.
type Client struct {
	rw io.ReadWriter

	pva   uint16
	drive string
	regId string

	keyPair *cipher.KeyPair
	nonce   [16]byte
	cipher  cipher.Cipher

	seq uint32

	maxFrameLen int
}

// NewClient wraps an established stream into a Client. Dial and DialQUIC
// are the usual entry points.
func NewClient(rw io.ReadWriter, pva uint16, drive, regId string) (*Client, error) {
	keyPair, err := cipher.NewKeyPair()
	if err != nil {
		return nil, err
	}
	nonce, err := cipher.NewNonce()
	if err != nil {
		return nil, err
	}

	return &Client{
		rw: rw,

		pva:   pva,
		drive: drive,
		regId: regId,

		keyPair: keyPair,
		nonce:   nonce,
	}, nil
}

// Dial connects to a gateway over TCP.
func Dial(address string, pva uint16, drive, regId string) (*Client, net.Conn, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, nil, err
	}

	c, err := NewClient(conn, pva, drive, regId)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return c, conn, nil
}

// DialQUIC connects to a gateway over QUIC.
func DialQUIC(address string, pva uint16, drive, regId string) (*Client, quic.Connection, error) {
	conn, err := quic.DialAddr(context.Background(), address, generateDialerTLSConfig(), nil)
	if err != nil {
		return nil, nil, err
	}

	stream, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, nil, err
	}

	c, err := NewClient(stream, pva, drive, regId)
	if err != nil {
		_ = conn.CloseWithError(0, "setup failed")
		return nil, nil, err
	}
	return c, conn, nil
}

// Handshake sends the hello and establishes the session cipher. A rejection
// is returned as the acknowledgement with an error.
func (c *Client) Handshake(suites uint8) (*ofdp.HelloAckMessage, error) {
	hello := ofdp.NewHelloMessage(c.pva, c.regId, suites, c.keyPair.Public, c.nonce)
	if err := c.send(hello, false); err != nil {
		return nil, err
	}

	msg, err := c.receive()
	if err != nil {
		return nil, err
	}

	ack, ok := msg.(*ofdp.HelloAckMessage)
	if !ok {
		return nil, fmt.Errorf("handshake answer is a %T", msg)
	}
	if !ack.Ok() {
		return ack, fmt.Errorf("handshake was rejected with status %d", ack.Status)
	}

	key, err := c.keyPair.SessionKey(ack.PublicKey, c.nonce, ack.Nonce)
	if err != nil {
		return nil, err
	}
	if c.cipher, err = cipher.New(cipher.Suite(ack.Suite), key); err != nil {
		return nil, err
	}

	return ack, nil
}

// SendDocument transmits one container under the next sequence number and
// waits for the answer.
func (c *Client) SendDocument(container []byte) (ofdp.Message, error) {
	c.seq++
	return c.Resend(c.seq, container)
}

// Resend transmits a container under an explicit sequence number, the way a
// device repeats an unacknowledged document.
func (c *Client) Resend(seq uint32, container []byte) (ofdp.Message, error) {
	if c.cipher == nil {
		return nil, fmt.Errorf("no session is established")
	}

	if err := c.send(ofdp.NewDocMessage(seq, container), true); err != nil {
		return nil, err
	}
	return c.receive()
}

// Terminate ends the session and waits for the gateway's reply.
func (c *Client) Terminate(code ofdp.SessionTerminationCode) error {
	if err := c.send(ofdp.NewSessionTerminationMessage(0, code), c.cipher != nil); err != nil {
		return err
	}

	msg, err := c.receive()
	if err != nil {
		return err
	}
	if term, ok := msg.(*ofdp.SessionTerminationMessage); !ok || !term.IsReply() {
		return fmt.Errorf("termination answer is %v", msg)
	}
	return nil
}

func (c *Client) send(msg ofdp.Message, enciphered bool) error {
	payload, err := ofdp.MarshalMessage(msg)
	if err != nil {
		return err
	}

	var flags uint16
	if enciphered && c.cipher != nil && c.cipher.Suite() != cipher.SuiteNone {
		if payload, err = c.cipher.Encrypt(payload); err != nil {
			return err
		}
		flags |= ofdp.FlagEnciphered
	}

	return ofdp.NewFrame(c.pva, c.drive, flags, payload).Marshal(c.rw)
}

func (c *Client) receive() (ofdp.Message, error) {
	f, err := ofdp.ReadFrame(c.rw, c.maxFrameLen)
	if err != nil {
		return nil, err
	}

	payload := f.Payload
	if f.Enciphered() {
		if c.cipher == nil {
			return nil, fmt.Errorf("enciphered answer before the handshake")
		}
		if payload, err = c.cipher.Decrypt(payload); err != nil {
			return nil, err
		}
	}

	return ofdp.UnmarshalMessage(payload)
}
