// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fiscal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	// ContainerMsgType is the container header's protocol message type.
	ContainerMsgType uint8 = 0xA5

	// ContainerVersion is the only supported container format version.
	ContainerVersion uint8 = 1

	// ContainerHeaderLen is the container header's size in bytes.
	ContainerHeaderLen = 28
)

// ContainerHeader precedes a document's TLV body inside a DOC message. It is
// produced by the fiscal drive and passed through to storage unaltered.
type ContainerHeader struct {
	DocType DocCode

	// Extra1 and Extra2 are reserved service data of the fiscal drive.
	Extra1 [2]byte
	Extra2 [12]byte

	// DriveNumber is the fiscal drive's serial, space padded to 8 bytes.
	DriveNumber [8]byte

	// DocNumber is the fiscal document number, 3 bytes big-endian.
	DocNumber uint32
}

// Drive returns the trimmed fiscal drive serial.
func (ch ContainerHeader) Drive() string {
	return strings.TrimSpace(string(ch.DriveNumber[:]))
}

// Marshal writes the 28-byte container header.
func (ch ContainerHeader) Marshal(buff *bytes.Buffer) error {
	if ch.DocNumber > 0xFFFFFF {
		return fmt.Errorf("document number %d exceeds three bytes", ch.DocNumber)
	}

	buff.WriteByte(ContainerMsgType)
	buff.WriteByte(byte(ch.DocType))
	buff.WriteByte(ContainerVersion)
	buff.Write(ch.Extra1[:])
	buff.Write(ch.DriveNumber[:])
	buff.Write([]byte{byte(ch.DocNumber >> 16), byte(ch.DocNumber >> 8), byte(ch.DocNumber)})
	buff.Write(ch.Extra2[:])

	return nil
}

// UnmarshalContainerHeader parses the 28-byte container header.
func UnmarshalContainerHeader(data []byte) (ch ContainerHeader, err error) {
	if len(data) != ContainerHeaderLen {
		err = fmt.Errorf("container header size must be %d, not %d", ContainerHeaderLen, len(data))
		return
	}

	if data[0] != ContainerMsgType {
		err = fmt.Errorf("container message type is %#x instead of %#x", data[0], ContainerMsgType)
		return
	}
	if data[2] != ContainerVersion {
		err = fmt.Errorf("container version is %d instead of %d", data[2], ContainerVersion)
		return
	}

	ch.DocType = DocCode(data[1])
	copy(ch.Extra1[:], data[3:5])
	copy(ch.DriveNumber[:], data[5:13])
	ch.DocNumber = uint32(data[13])<<16 | uint32(data[14])<<8 | uint32(data[15])
	copy(ch.Extra2[:], data[16:28])

	return
}

// Document is one decoded fiscal record. Raw keeps the complete container
// bytes for audit and forwarding; Fields preserve wire order.
type Document struct {
	Code    DocCode
	Version string

	Header ContainerHeader
	Fields []Field

	Raw []byte
}

// ParseContainer decodes a container (header + root TLV) into a Document.
// The version is the session's negotiated application protocol version name,
// e.g. "1.05".
func ParseContainer(data []byte, version string) (*Document, error) {
	if len(data) < ContainerHeaderLen+tlvOverhead {
		return nil, fmt.Errorf("container size %d is below minimum", len(data))
	}

	header, err := UnmarshalContainerHeader(data[:ContainerHeaderLen])
	if err != nil {
		return nil, err
	}

	body := data[ContainerHeaderLen:]
	rootTag := Tag(binary.LittleEndian.Uint16(body))
	rootLen := int(binary.LittleEndian.Uint16(body[2:]))

	code := DocCode(rootTag)
	if !code.Known() {
		return nil, fmt.Errorf("unknown document code %d", rootTag)
	}
	if code != header.DocType {
		return nil, fmt.Errorf("document code %v contradicts container header's %v", code, header.DocType)
	}
	if rootLen > code.MaxLen() {
		return nil, fmt.Errorf("document %v body size %d exceeds maximum %d", code, rootLen, code.MaxLen())
	}
	if len(body)-tlvOverhead < rootLen {
		return nil, fmt.Errorf("document %v body is truncated", code)
	}

	fields, err := UnpackFields(body[tlvOverhead : tlvOverhead+rootLen])
	if err != nil {
		return nil, err
	}

	raw := make([]byte, len(data))
	copy(raw, data)

	return &Document{
		Code:    code,
		Version: version,
		Header:  header,
		Fields:  fields,
		Raw:     raw,
	}, nil
}

// PackContainer assembles a container from a header and fields, the inverse
// of ParseContainer.
func PackContainer(header ContainerHeader, fields []Field) ([]byte, error) {
	body, err := PackFields(fields)
	if err != nil {
		return nil, err
	}
	if len(body) > 0xFFFF {
		return nil, fmt.Errorf("document body size %d exceeds TLV length field", len(body))
	}

	var buff bytes.Buffer
	if err := header.Marshal(&buff); err != nil {
		return nil, err
	}

	var root [tlvOverhead]byte
	binary.LittleEndian.PutUint16(root[0:], uint16(header.DocType))
	binary.LittleEndian.PutUint16(root[2:], uint16(len(body)))
	buff.Write(root[:])
	buff.Write(body)

	return buff.Bytes(), nil
}

// Field returns the document's first field with the given tag.
func (doc *Document) Field(tag Tag) (Field, bool) {
	return FindField(doc.Fields, tag)
}

// Uint returns a numeric field's value or zero.
func (doc *Document) Uint(tag Tag) uint64 {
	field, ok := doc.Field(tag)
	if !ok {
		return 0
	}

	switch v := field.Value.(type) {
	case ByteValue:
		return uint64(v)
	case U32Value:
		return uint64(v)
	case VLNValue:
		return uint64(v)
	default:
		return 0
	}
}

// Str returns a string field's value or the empty string.
func (doc *Document) Str(tag Tag) string {
	if field, ok := doc.Field(tag); ok {
		if v, ok := field.Value.(StringValue); ok {
			return string(v)
		}
	}
	return ""
}

// Time returns a timestamp field's value or the zero time.
func (doc *Document) Time(tag Tag) time.Time {
	if field, ok := doc.Field(tag); ok {
		if v, ok := field.Value.(TimeValue); ok {
			return time.Time(v)
		}
	}
	return time.Time{}
}

// DriveNumber is the fiscal drive serial taken from the container header.
func (doc *Document) DriveNumber() string {
	return doc.Header.Drive()
}

// DocNumber is the fiscal document number from the container header.
func (doc *Document) DocNumber() uint32 {
	return doc.Header.DocNumber
}

func (doc *Document) String() string {
	return fmt.Sprintf("Document(%v, version=%s, drive=%s, number=%d)",
		doc.Code, doc.Version, doc.DriveNumber(), doc.DocNumber())
}
