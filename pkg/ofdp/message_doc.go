// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ofdp

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DOC is the message header code for a document transmission.
const DOC uint8 = 0x05

// DocMessage carries one fiscal document container: the 28-byte container
// header followed by the TLV body. Seq orders documents within a session.
type DocMessage struct {
	Seq       uint32
	Container []byte
}

// NewDocMessage creates a DocMessage with the given fields.
func NewDocMessage(seq uint32, container []byte) *DocMessage {
	return &DocMessage{Seq: seq, Container: container}
}

func (dm *DocMessage) String() string {
	return fmt.Sprintf("DOC(seq=%d, len=%d)", dm.Seq, len(dm.Container))
}

func (dm *DocMessage) Marshal(w io.Writer) error {
	if len(dm.Container) > 0xFFFF {
		return fmt.Errorf("DOC container size %d exceeds the length field", len(dm.Container))
	}

	fields := []interface{}{DOC, dm.Seq, uint16(len(dm.Container))}
	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	if n, err := w.Write(dm.Container); err != nil {
		return err
	} else if n != len(dm.Container) {
		return fmt.Errorf("DOC container length is %d, but only wrote %d bytes", len(dm.Container), n)
	}
	return nil
}

func (dm *DocMessage) Unmarshal(r io.Reader) error {
	var messageHeader uint8
	if err := binary.Read(r, binary.LittleEndian, &messageHeader); err != nil {
		return err
	} else if messageHeader != DOC {
		return fmt.Errorf("DOC's message header is wrong: %#02x instead of %#02x", messageHeader, DOC)
	}

	var containerLen uint16
	fields := []interface{}{&dm.Seq, &containerLen}
	for _, field := range fields {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	dm.Container = make([]byte, containerLen)
	if _, err := io.ReadFull(r, dm.Container); err != nil {
		return err
	}
	return nil
}

// DOC_ACK is the message header code for a positive acknowledgement.
const DOC_ACK uint8 = 0x06

// DocAckMessage confirms a stored document. DocId is the storage-assigned
// identifier; Receipt optionally carries the operator confirmation container
// (operatorAck) for the fiscal drive.
type DocAckMessage struct {
	Seq     uint32
	DocId   uint64
	Receipt []byte
}

// NewDocAckMessage creates a DocAckMessage with the given fields.
func NewDocAckMessage(seq uint32, docId uint64, receipt []byte) *DocAckMessage {
	return &DocAckMessage{Seq: seq, DocId: docId, Receipt: receipt}
}

func (dam *DocAckMessage) String() string {
	return fmt.Sprintf("DOC_ACK(seq=%d, doc=%d)", dam.Seq, dam.DocId)
}

func (dam *DocAckMessage) Marshal(w io.Writer) error {
	if len(dam.Receipt) > 0xFFFF {
		return fmt.Errorf("DOC_ACK receipt size %d exceeds the length field", len(dam.Receipt))
	}

	fields := []interface{}{DOC_ACK, dam.Seq, dam.DocId, uint16(len(dam.Receipt))}
	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	if n, err := w.Write(dam.Receipt); err != nil {
		return err
	} else if n != len(dam.Receipt) {
		return fmt.Errorf("DOC_ACK receipt length is %d, but only wrote %d bytes", len(dam.Receipt), n)
	}
	return nil
}

func (dam *DocAckMessage) Unmarshal(r io.Reader) error {
	var messageHeader uint8
	if err := binary.Read(r, binary.LittleEndian, &messageHeader); err != nil {
		return err
	} else if messageHeader != DOC_ACK {
		return fmt.Errorf("DOC_ACK's message header is wrong: %#02x instead of %#02x", messageHeader, DOC_ACK)
	}

	var receiptLen uint16
	fields := []interface{}{&dam.Seq, &dam.DocId, &receiptLen}
	for _, field := range fields {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	dam.Receipt = make([]byte, receiptLen)
	if _, err := io.ReadFull(r, dam.Receipt); err != nil {
		return err
	}
	return nil
}

// DOC_NACK is the message header code for a negative acknowledgement.
const DOC_NACK uint8 = 0x07

// Response codes carried in a DocNackMessage.
const (
	// NackValidation is the FLK (structural/logical control) error code.
	NackValidation uint8 = 14

	// NackUnsupportedVersion rejects an unknown document/version pair.
	NackUnsupportedVersion uint8 = 15

	// NackMalformed rejects an unparsable container.
	NackMalformed uint8 = 16

	// NackStorageTransient asks the device to resend later; the document
	// was not lost, the append path is temporarily unavailable.
	NackStorageTransient uint8 = 20

	// NackProtocolFault rejects a frame violating the session protocol:
	// an undecipherable payload, a device or version mismatch, or a
	// message the current state does not expect.
	NackProtocolFault uint8 = 21

	// NackFrameCorrupt rejects a frame failing its checksum.
	NackFrameCorrupt uint8 = 22
)

// DocNackMessage rejects a document, carrying the first violation's code
// and field path.
type DocNackMessage struct {
	Seq  uint32
	Code uint8
	Path string
}

// NewDocNackMessage creates a DocNackMessage with the given fields.
func NewDocNackMessage(seq uint32, code uint8, path string) *DocNackMessage {
	return &DocNackMessage{Seq: seq, Code: code, Path: path}
}

func (dnm *DocNackMessage) String() string {
	return fmt.Sprintf("DOC_NACK(seq=%d, code=%d, path=%s)", dnm.Seq, dnm.Code, dnm.Path)
}

func (dnm *DocNackMessage) Marshal(w io.Writer) error {
	path := []byte(dnm.Path)
	if len(path) > 0xFFFF {
		return fmt.Errorf("DOC_NACK path size %d exceeds the length field", len(path))
	}

	fields := []interface{}{DOC_NACK, dnm.Seq, dnm.Code, uint16(len(path))}
	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	if n, err := w.Write(path); err != nil {
		return err
	} else if n != len(path) {
		return fmt.Errorf("DOC_NACK path length is %d, but only wrote %d bytes", len(path), n)
	}
	return nil
}

func (dnm *DocNackMessage) Unmarshal(r io.Reader) error {
	var messageHeader uint8
	if err := binary.Read(r, binary.LittleEndian, &messageHeader); err != nil {
		return err
	} else if messageHeader != DOC_NACK {
		return fmt.Errorf("DOC_NACK's message header is wrong: %#02x instead of %#02x", messageHeader, DOC_NACK)
	}

	var pathLen uint16
	fields := []interface{}{&dnm.Seq, &dnm.Code, &pathLen}
	for _, field := range fields {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	path := make([]byte, pathLen)
	if _, err := io.ReadFull(r, path); err != nil {
		return err
	}
	dnm.Path = string(path)
	return nil
}
