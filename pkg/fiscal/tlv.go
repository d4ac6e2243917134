// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fiscal

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Field is one tagged value within a document body. Fields keep their wire
// order; repeated tags appear as separate entries.
type Field struct {
	Tag   Tag
	Value Value

	// Unknown marks a tag outside the closed dictionary. Its Value is the
	// raw BytesValue, preserved for lenient-mode forwarding.
	Unknown bool
}

// tlvOverhead is the per-entry cost of the tag and length fields.
const tlvOverhead = 4

// UnpackFields parses a TLV byte sequence into ordered fields. Tags missing
// from the dictionary are kept as raw bytes and flagged Unknown.
func UnpackFields(data []byte) ([]Field, error) {
	var fields []Field

	for off := 0; off < len(data); {
		if len(data)-off < tlvOverhead {
			return nil, fmt.Errorf("truncated TLV entry at offset %d", off)
		}

		tag := Tag(binary.LittleEndian.Uint16(data[off:]))
		length := int(binary.LittleEndian.Uint16(data[off+2:]))
		off += tlvOverhead

		if len(data)-off < length {
			return nil, fmt.Errorf("TLV value for tag %v exceeds buffer at offset %d", tag, off)
		}
		raw := data[off : off+length]
		off += length

		if spec, ok := LookupTag(tag); ok {
			value, err := DecodeValue(spec, raw)
			if err != nil {
				return nil, err
			}
			fields = append(fields, Field{Tag: tag, Value: value})
		} else {
			fields = append(fields, Field{Tag: tag, Value: BytesValue(raw), Unknown: true})
		}
	}

	return fields, nil
}

// PackFields serializes ordered fields back into their TLV representation.
func PackFields(fields []Field) ([]byte, error) {
	var buff bytes.Buffer

	for _, field := range fields {
		data, err := field.Value.Encode()
		if err != nil {
			return nil, fmt.Errorf("encoding tag %v: %w", field.Tag, err)
		}
		if len(data) > 0xFFFF {
			return nil, fmt.Errorf("encoded tag %v exceeds TLV length field", field.Tag)
		}

		var head [tlvOverhead]byte
		binary.LittleEndian.PutUint16(head[0:], uint16(field.Tag))
		binary.LittleEndian.PutUint16(head[2:], uint16(len(data)))

		buff.Write(head[:])
		buff.Write(data)
	}

	return buff.Bytes(), nil
}

// FindField returns the first field with the given tag.
func FindField(fields []Field, tag Tag) (Field, bool) {
	for _, field := range fields {
		if field.Tag == tag {
			return field, true
		}
	}
	return Field{}, false
}

// CountFields counts the fields carrying the given tag.
func CountFields(fields []Field, tag Tag) (n int) {
	for _, field := range fields {
		if field.Tag == tag {
			n++
		}
	}
	return
}
