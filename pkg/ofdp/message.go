// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ofdp

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
)

// Message describes all kinds of protocol messages carried as frame
// payloads, which have their serialization and deserialization in common.
type Message interface {
	Marshal(w io.Writer) error
	Unmarshal(r io.Reader) error
}

// messages maps the message type codes to an example instance of their type.
var messages = map[uint8]Message{
	HELLO:     &HelloMessage{},
	HELLO_ACK: &HelloAckMessage{},
	DOC:       &DocMessage{},
	DOC_ACK:   &DocAckMessage{},
	DOC_NACK:  &DocNackMessage{},
	SESS_TERM: &SessionTerminationMessage{},
}

// NewMessage creates a new Message type for a given type code.
func NewMessage(typeCode uint8) (msg Message, err error) {
	msgType, exists := messages[typeCode]
	if !exists {
		err = fmt.Errorf("no message registered for type code %#02x", typeCode)
		return
	}

	msgElem := reflect.TypeOf(msgType).Elem()
	msg = reflect.New(msgElem).Interface().(Message)
	return
}

// ReadMessage parses the next message from the Reader.
func ReadMessage(r io.Reader) (msg Message, err error) {
	msgTypeBytes := make([]byte, 1)
	if _, err = io.ReadFull(r, msgTypeBytes); err != nil {
		return
	}

	msg, msgErr := NewMessage(msgTypeBytes[0])
	if msgErr != nil {
		err = msgErr
		return
	}

	mr := io.MultiReader(bytes.NewBuffer(msgTypeBytes), r)

	err = msg.Unmarshal(mr)
	return
}

// UnmarshalMessage parses one message from raw payload bytes, erroring on
// trailing garbage.
func UnmarshalMessage(payload []byte) (Message, error) {
	buff := bytes.NewBuffer(payload)

	msg, err := ReadMessage(buff)
	if err != nil {
		return nil, err
	}
	if buff.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %T", buff.Len(), msg)
	}

	return msg, nil
}

// MarshalMessage serializes one message into payload bytes.
func MarshalMessage(msg Message) ([]byte, error) {
	var buff bytes.Buffer
	if err := msg.Marshal(&buff); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}
