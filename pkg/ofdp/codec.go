// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ofdp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// CorruptError reports a frame failing its framing invariants: bad magic,
// bad declared length or a checksum mismatch. Offset points at the first
// offending byte relative to the frame start.
type CorruptError struct {
	Offset int
	Reason string

	// Aligned marks that the offending frame was consumed whole and the
	// stream remains frame-aligned, so reading may continue. Without a
	// trustworthy header there is no resync point and Aligned is false.
	Aligned bool
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt frame at offset %d: %s", e.Offset, e.Reason)
}

// Decoder turns a byte stream into frames. It is incremental: Push accepts
// arbitrarily sized chunks and Next produces a frame once enough bytes have
// accumulated. A Decoder belongs to one connection and is not safe for
// concurrent use.
type Decoder struct {
	// MaxFrameLen bounds the declared payload length. Oversized
	// declarations are rejected before any payload is buffered.
	MaxFrameLen int

	buff bytes.Buffer
}

// NewDecoder creates a Decoder with the given payload bound; a non-positive
// value selects DefaultMaxFrameLen.
func NewDecoder(maxFrameLen int) *Decoder {
	if maxFrameLen <= 0 {
		maxFrameLen = DefaultMaxFrameLen
	}
	return &Decoder{MaxFrameLen: maxFrameLen}
}

// Push appends raw bytes from the stream.
func (dec *Decoder) Push(data []byte) {
	dec.buff.Write(data)
}

// Next extracts the next frame. It returns (nil, nil) while more bytes are
// needed. A *CorruptError discards the offending frame's buffered bytes;
// decoding may continue with the following frame.
func (dec *Decoder) Next() (*Frame, error) {
	data := dec.buff.Bytes()
	if len(data) < HeaderLen {
		return nil, nil
	}

	f, length, err := parseHeader(data[:HeaderLen])
	if err != nil {
		// The header is unusable; without a trustworthy length field
		// there is no resync point, so drop everything buffered.
		dec.buff.Reset()
		return nil, err
	}

	if length > dec.MaxFrameLen {
		dec.buff.Reset()
		return nil, &CorruptError{
			Offset: 24,
			Reason: fmt.Sprintf("declared payload length %d exceeds maximum %d", length, dec.MaxFrameLen),
		}
	}

	if len(data) < HeaderLen+length {
		return nil, nil
	}

	payload := make([]byte, length)
	copy(payload, data[HeaderLen:HeaderLen+length])
	dec.buff.Next(HeaderLen + length)

	expected := binary.LittleEndian.Uint16(data[28:])
	if actual := checksum(data[:28], payload); actual != expected {
		return nil, &CorruptError{
			Offset:  28,
			Reason:  fmt.Sprintf("checksum %#04x does not match %#04x", actual, expected),
			Aligned: true,
		}
	}

	f.Payload = payload
	return f, nil
}

// Buffered is the number of bytes waiting in the Decoder.
func (dec *Decoder) Buffered() int {
	return dec.buff.Len()
}

// ReadFrame reads exactly one frame from the Reader, blocking until it is
// complete. Stream transports use this; message-based transports push their
// chunks through a Decoder instead.
func ReadFrame(r io.Reader, maxFrameLen int) (*Frame, error) {
	if maxFrameLen <= 0 {
		maxFrameLen = DefaultMaxFrameLen
	}

	header := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	f, length, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	if length > maxFrameLen {
		return nil, &CorruptError{
			Offset: 24,
			Reason: fmt.Sprintf("declared payload length %d exceeds maximum %d", length, maxFrameLen),
		}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	expected := binary.LittleEndian.Uint16(header[28:])
	if actual := checksum(header[:28], payload); actual != expected {
		return nil, &CorruptError{
			Offset:  28,
			Reason:  fmt.Sprintf("checksum %#04x does not match %#04x", actual, expected),
			Aligned: true,
		}
	}

	f.Payload = payload
	return f, nil
}
