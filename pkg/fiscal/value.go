// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fiscal

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/text/encoding/charmap"
)

// Value is one decoded tag value. The concrete type is determined by the
// tag's TagKind.
type Value interface {
	Kind() TagKind

	// Encode returns the value's wire representation.
	Encode() ([]byte, error)
}

// ByteValue is a single-byte unsigned integer.
type ByteValue uint8

// U32Value is a little-endian uint32.
type U32Value uint32

// StringValue is a CP866 character string.
type StringValue string

// BytesValue is an opaque byte string.
type BytesValue []byte

// TimeValue is a Unix timestamp with second precision.
type TimeValue time.Time

// VLNValue is a variable-length unsigned number; trailing zero bytes of its
// little-endian representation are trimmed on the wire.
type VLNValue uint64

// FVLNValue is a variable-length fixed-point number. Point counts decimal
// digits right of the point, Num holds the digits as an integer.
type FVLNValue struct {
	Point uint8
	Num   uint64
}

// STLVValue is a nested group of tagged fields.
type STLVValue []Field

func (ByteValue) Kind() TagKind   { return KindByte }
func (U32Value) Kind() TagKind    { return KindU32 }
func (StringValue) Kind() TagKind { return KindString }
func (BytesValue) Kind() TagKind  { return KindBytes }
func (TimeValue) Kind() TagKind   { return KindUnixTime }
func (VLNValue) Kind() TagKind    { return KindVLN }
func (FVLNValue) Kind() TagKind   { return KindFVLN }
func (STLVValue) Kind() TagKind   { return KindSTLV }

func (v ByteValue) Encode() ([]byte, error) {
	return []byte{byte(v)}, nil
}

func (v U32Value) Encode() ([]byte, error) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(v))
	return data, nil
}

func (v StringValue) Encode() ([]byte, error) {
	return charmap.CodePage866.NewEncoder().Bytes([]byte(v))
}

func (v BytesValue) Encode() ([]byte, error) {
	return v, nil
}

func (v TimeValue) Encode() ([]byte, error) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(time.Time(v).Unix()))
	return data, nil
}

func (v VLNValue) Encode() ([]byte, error) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(v))
	return trimZeros(data), nil
}

func (v FVLNValue) Encode() ([]byte, error) {
	data := make([]byte, 9)
	data[0] = v.Point
	binary.LittleEndian.PutUint64(data[1:], v.Num)
	return data[:1+len(trimZeros(data[1:]))], nil
}

func (v STLVValue) Encode() ([]byte, error) {
	return PackFields(v)
}

// Float returns the fixed-point number as a float64.
func (v FVLNValue) Float() float64 {
	f := float64(v.Num)
	for i := uint8(0); i < v.Point; i++ {
		f /= 10
	}
	return f
}

// trimZeros strips trailing zero bytes, keeping at least one byte. Trailing
// zeros do not change a little-endian number's value.
func trimZeros(data []byte) []byte {
	end := len(data)
	for end > 1 && data[end-1] == 0 {
		end--
	}
	return data[:end]
}

// DecodeValue interprets data according to the given TagSpec.
func DecodeValue(spec TagSpec, data []byte) (Value, error) {
	if spec.MaxLen > 0 && len(data) > spec.MaxLen && spec.Kind != KindSTLV {
		return nil, fmt.Errorf("tag %v: value size %d exceeds maximum %d", spec.Tag, len(data), spec.MaxLen)
	}

	switch spec.Kind {
	case KindByte:
		// A zero-length value decodes to zero, as some devices send it.
		if len(data) == 0 {
			return ByteValue(0), nil
		} else if len(data) != 1 {
			return nil, fmt.Errorf("tag %v: byte value has size %d", spec.Tag, len(data))
		}
		return ByteValue(data[0]), nil

	case KindU32:
		if len(data) == 0 {
			return U32Value(0), nil
		} else if len(data) != 4 {
			return nil, fmt.Errorf("tag %v: uint32 value has size %d", spec.Tag, len(data))
		}
		return U32Value(binary.LittleEndian.Uint32(data)), nil

	case KindString:
		decoded, err := charmap.CodePage866.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("tag %v: decoding CP866 string: %w", spec.Tag, err)
		}
		return StringValue(decoded), nil

	case KindBytes:
		return BytesValue(data), nil

	case KindUnixTime:
		if len(data) != 4 {
			return nil, fmt.Errorf("tag %v: timestamp value has size %d", spec.Tag, len(data))
		}
		return TimeValue(time.Unix(int64(binary.LittleEndian.Uint32(data)), 0).UTC()), nil

	case KindVLN:
		if len(data) > 8 {
			return nil, fmt.Errorf("tag %v: vln value has size %d", spec.Tag, len(data))
		}
		var padded [8]byte
		copy(padded[:], data)
		return VLNValue(binary.LittleEndian.Uint64(padded[:])), nil

	case KindFVLN:
		if len(data) == 0 || len(data) > 9 {
			return nil, fmt.Errorf("tag %v: fvln value has size %d", spec.Tag, len(data))
		}
		var padded [8]byte
		copy(padded[:], data[1:])
		return FVLNValue{Point: data[0], Num: binary.LittleEndian.Uint64(padded[:])}, nil

	case KindSTLV:
		fields, err := UnpackFields(data)
		if err != nil {
			return nil, fmt.Errorf("tag %v: %w", spec.Tag, err)
		}
		return STLVValue(fields), nil

	default:
		return nil, fmt.Errorf("tag %v: unknown kind %v", spec.Tag, spec.Kind)
	}
}
