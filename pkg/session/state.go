// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package session drives one device connection through its lifecycle: the
// handshake, the enciphered document exchange and the teardown. The Machine
// is transport independent; the gateway's connection loops feed it frames
// and send back whatever it answers.
package session

// State describes the current state of a session.
type State int

const (
	// AwaitingHello is the fresh session before any frame arrived.
	AwaitingHello State = iota

	// Handshaking is entered while the device's hello is being answered.
	Handshaking

	// Active is the established session exchanging documents.
	Active

	// Closing is entered after sending a termination, awaiting the reply.
	Closing

	// Closed is the terminated session; its connection can be dropped.
	Closed

	// Faulted is a session torn down after repeated protocol faults.
	Faulted
)

func (s State) String() string {
	switch s {
	case AwaitingHello:
		return "awaiting hello"
	case Handshaking:
		return "handshaking"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Faulted:
		return "faulted"
	default:
		return "INVALID"
	}
}

// Terminal reports if no further frames are expected.
func (s State) Terminal() bool {
	return s == Closed || s == Faulted
}
