// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package ofdp implements the KKT device protocol's wire layer: the session
// frame with its checksum and the protocol messages carried as frame
// payloads. The codec treats payloads as opaque; deciphering and document
// semantics live upstream.
package ofdp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/howeyc/crc16"
)

const (
	// Magic starts every frame; the bytes 2a 08 41 0a on the wire.
	Magic uint32 = 0x0A41082A

	// SessionVersion is the session-layer protocol version, constant over
	// all application protocol revisions; 81 a2 on the wire.
	SessionVersion uint16 = 0xA281

	// HeaderLen is the frame header's size in bytes.
	HeaderLen = 30

	// DefaultMaxFrameLen bounds a frame's payload; 32 KiB per protocol.
	DefaultMaxFrameLen = 32 * 1024
)

// Frame flags.
const (
	// FlagExpectsResponse is set when the sender awaits an answer frame.
	FlagExpectsResponse uint16 = 0x0004

	// FlagHasPayload is set when the frame carries a payload.
	FlagHasPayload uint16 = 0x0010

	// FlagEnciphered is set when the payload is protected by the session
	// cipher.
	FlagEnciphered uint16 = 0x0020
)

// Application protocol versions, little-endian u16 values from the wire.
const (
	VersionFFD10Legacy  uint16 = 0x0100
	VersionFFD105Legacy uint16 = 0x0200
	VersionFFD10        uint16 = 0x0001
	VersionFFD105       uint16 = 0x0501
	VersionFFD11        uint16 = 0x1001
)

// versionNames maps application protocol versions to FFD version names, the
// keys the schema table is built on.
var versionNames = map[uint16]string{
	VersionFFD10Legacy:  "1.0",
	VersionFFD105Legacy: "1.05",
	VersionFFD10:        "1.0",
	VersionFFD105:       "1.05",
	VersionFFD11:        "1.1",
}

// VersionName resolves an application protocol version to its FFD name.
func VersionName(pva uint16) (string, bool) {
	name, ok := versionNames[pva]
	return name, ok
}

// Frame is one length-delimited, checksummed unit of the wire protocol. The
// payload is a marshalled, possibly enciphered Message.
type Frame struct {
	// PVA is the application protocol version declared by the sender.
	PVA uint16

	// Device is the fiscal drive serial, space padded to 16 bytes.
	Device [16]byte

	Flags   uint16
	Payload []byte
}

// NewFrame builds a frame around a payload.
func NewFrame(pva uint16, device string, flags uint16, payload []byte) *Frame {
	f := &Frame{
		PVA:     pva,
		Flags:   flags,
		Payload: payload,
	}
	if len(payload) > 0 {
		f.Flags |= FlagHasPayload
	}
	copy(f.Device[:], []byte(strings.Repeat(" ", 16)))
	copy(f.Device[:], device)
	return f
}

// DeviceId is the trimmed fiscal drive serial.
func (f *Frame) DeviceId() string {
	return strings.TrimSpace(string(f.Device[:]))
}

// Enciphered reports if the payload is protected by the session cipher.
func (f *Frame) Enciphered() bool {
	return f.Flags&FlagEnciphered != 0
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame(pva=%#04x, device=%s, flags=%#04x, len=%d)",
		f.PVA, f.DeviceId(), f.Flags, len(f.Payload))
}

// checksum is the CRC-16/CCITT-FALSE over the header's first 28 bytes plus
// the complete payload.
func checksum(header, payload []byte) uint16 {
	data := make([]byte, 0, len(header)+len(payload))
	data = append(data, header...)
	data = append(data, payload...)
	return crc16.ChecksumCCITTFalse(data)
}

// Marshal writes the frame to the Writer.
func (f *Frame) Marshal(w io.Writer) error {
	if len(f.Payload) > 0xFFFF {
		return fmt.Errorf("payload size %d exceeds the length field", len(f.Payload))
	}

	var header [HeaderLen]byte
	binary.LittleEndian.PutUint32(header[0:], Magic)
	binary.LittleEndian.PutUint16(header[4:], SessionVersion)
	binary.LittleEndian.PutUint16(header[6:], f.PVA)
	copy(header[8:24], f.Device[:])
	binary.LittleEndian.PutUint16(header[24:], uint16(len(f.Payload)))
	binary.LittleEndian.PutUint16(header[26:], f.Flags)
	binary.LittleEndian.PutUint16(header[28:], checksum(header[:28], f.Payload))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if n, err := w.Write(f.Payload); err != nil {
		return err
	} else if n != len(f.Payload) {
		return fmt.Errorf("wrote %d payload bytes instead of %d", n, len(f.Payload))
	}

	return nil
}

// Bytes is Marshal into a fresh buffer.
func (f *Frame) Bytes() ([]byte, error) {
	var buff bytes.Buffer
	if err := f.Marshal(&buff); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

// parseHeader validates the fixed header fields. It leaves length and
// checksum verification to the Decoder, which has the payload at hand.
func parseHeader(header []byte) (f *Frame, length int, err error) {
	if magic := binary.LittleEndian.Uint32(header[0:]); magic != Magic {
		return nil, 0, &CorruptError{Offset: 0, Reason: fmt.Sprintf("magic %#08x does not match", magic)}
	}
	if vers := binary.LittleEndian.Uint16(header[4:]); vers != SessionVersion {
		return nil, 0, &CorruptError{Offset: 4, Reason: fmt.Sprintf("session version %#04x does not match", vers)}
	}

	f = &Frame{
		PVA:   binary.LittleEndian.Uint16(header[6:]),
		Flags: binary.LittleEndian.Uint16(header[26:]),
	}
	copy(f.Device[:], header[8:24])
	length = int(binary.LittleEndian.Uint16(header[24:]))

	return
}
