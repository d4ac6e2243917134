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

// SESS_TERM is the message header code for a session termination message.
const SESS_TERM uint8 = 0x08

// SessionTerminationFlags are single-bit flags of a SessionTerminationMessage.
type SessionTerminationFlags uint8

const (
	// TerminationReply marks this message as an answer to a received
	// termination message.
	TerminationReply SessionTerminationFlags = 0x01
)

func (stf SessionTerminationFlags) String() string {
	var flags []string
	if stf&TerminationReply != 0 {
		flags = append(flags, "REPLY")
	}
	return strings.Join(flags, ",")
}

// SessionTerminationCode is the termination's reason code.
type SessionTerminationCode uint8

const (
	// TerminationShiftClosed ends a session after the closing document.
	TerminationShiftClosed SessionTerminationCode = 0x00

	// TerminationIdle ends a session after the idle timeout.
	TerminationIdle SessionTerminationCode = 0x01

	// TerminationFault ends a session after repeated faults.
	TerminationFault SessionTerminationCode = 0x02

	// TerminationUnknown ends a session for an unspecified reason.
	TerminationUnknown SessionTerminationCode = 0xFF
)

func (stc SessionTerminationCode) String() string {
	switch stc {
	case TerminationShiftClosed:
		return "shift closed"
	case TerminationIdle:
		return "idle timeout"
	case TerminationFault:
		return "session fault"
	case TerminationUnknown:
		return "unknown"
	default:
		return "INVALID"
	}
}

// SessionTerminationMessage ends a session; the peer answers with the same
// message carrying the reply flag, then both sides close the connection.
type SessionTerminationMessage struct {
	Flags SessionTerminationFlags
	Code  SessionTerminationCode
}

// NewSessionTerminationMessage creates a SessionTerminationMessage.
func NewSessionTerminationMessage(flags SessionTerminationFlags, code SessionTerminationCode) *SessionTerminationMessage {
	return &SessionTerminationMessage{Flags: flags, Code: code}
}

// IsReply checks the reply flag.
func (stm *SessionTerminationMessage) IsReply() bool {
	return stm.Flags&TerminationReply != 0
}

func (stm *SessionTerminationMessage) String() string {
	return fmt.Sprintf("SESS_TERM(flags=%v, code=%v)", stm.Flags, stm.Code)
}

func (stm *SessionTerminationMessage) Marshal(w io.Writer) error {
	fields := []interface{}{SESS_TERM, stm.Flags, stm.Code}
	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	return nil
}

func (stm *SessionTerminationMessage) Unmarshal(r io.Reader) error {
	var messageHeader uint8
	if err := binary.Read(r, binary.LittleEndian, &messageHeader); err != nil {
		return err
	} else if messageHeader != SESS_TERM {
		return fmt.Errorf("SESS_TERM's message header is wrong: %#02x instead of %#02x", messageHeader, SESS_TERM)
	}

	fields := []interface{}{&stm.Flags, &stm.Code}
	for _, field := range fields {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	return nil
}
