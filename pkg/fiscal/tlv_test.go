// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fiscal

import (
	"bytes"
	"reflect"
	"testing"
	"time"
)

func TestValueRoundTrip(t *testing.T) {
	tests := []struct {
		spec  TagSpec
		value Value
		data  []byte
	}{
		{tagSpecs[TagTaxationType], ByteValue(0x01), []byte{0x01}},
		{tagSpecs[TagShiftNumber], U32Value(23), []byte{0x17, 0x00, 0x00, 0x00}},
		{tagSpecs[TagOperator], StringValue("Ivanov"), []byte("Ivanov")},
		{tagSpecs[TagTotalSum], VLNValue(10000), []byte{0x10, 0x27}},
		{tagSpecs[TagQuantity], FVLNValue{Point: 3, Num: 1500}, []byte{0x03, 0xDC, 0x05}},
		{tagSpecs[TagDateTime], TimeValue(time.Unix(1502458500, 0).UTC()),
			[]byte{0x04, 0x58, 0x8D, 0x59}},
	}

	for _, test := range tests {
		if data, err := test.value.Encode(); err != nil {
			t.Fatalf("encoding %v errored: %v", test.value, err)
		} else if !bytes.Equal(data, test.data) {
			t.Fatalf("tag %v: expected %x, got %x", test.spec.Tag, test.data, data)
		}

		if value, err := DecodeValue(test.spec, test.data); err != nil {
			t.Fatalf("decoding %x errored: %v", test.data, err)
		} else if !reflect.DeepEqual(value, test.value) {
			t.Fatalf("tag %v: expected %v, got %v", test.spec.Tag, test.value, value)
		}
	}
}

func TestFVLNFloat(t *testing.T) {
	tests := []struct {
		value    FVLNValue
		expected float64
	}{
		{FVLNValue{Point: 3, Num: 1500}, 1.5},
		{FVLNValue{Point: 0, Num: 2}, 2},
		{FVLNValue{Point: 2, Num: 4999}, 49.99},
	}

	for _, test := range tests {
		if f := test.value.Float(); f != test.expected {
			t.Fatalf("expected %f, got %f", test.expected, f)
		}
	}
}

func TestUnpackFieldsOrderAndUnknown(t *testing.T) {
	fields := []Field{
		{Tag: TagShiftNumber, Value: U32Value(1)},
		{Tag: Tag(60000), Value: BytesValue([]byte{0xAA, 0xBB}), Unknown: true},
		{Tag: TagTotalSum, Value: VLNValue(4200)},
	}

	data, err := PackFields(fields)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := UnpackFields(data)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(fields, parsed) {
		t.Fatalf("fields do not match, expected %v and got %v", fields, parsed)
	}
}

func TestUnpackFieldsTruncated(t *testing.T) {
	tests := [][]byte{
		{0x14, 0x04},                         // incomplete TLV head
		{0x14, 0x04, 0x08, 0x00, 0x01},       // value shorter than declared
		{0x14, 0x04, 0x08, 0x00},             // value missing entirely
	}

	for _, data := range tests {
		if _, err := UnpackFields(data); err == nil {
			t.Fatalf("unpacking %x did not error", data)
		}
	}
}

func TestContainerRoundTrip(t *testing.T) {
	header := ContainerHeader{DocType: DocOpenShift, DocNumber: 77}
	copy(header.DriveNumber[:], "87100042")

	fields := []Field{
		{Tag: TagDateTime, Value: TimeValue(time.Unix(1600000000, 0).UTC())},
		{Tag: TagShiftNumber, Value: U32Value(5)},
		{Tag: TagUserInn, Value: StringValue("7704358518")},
	}

	data, err := PackContainer(header, fields)
	if err != nil {
		t.Fatal(err)
	}

	doc, err := ParseContainer(data, "1.05")
	if err != nil {
		t.Fatal(err)
	}

	if doc.Code != DocOpenShift {
		t.Fatalf("expected %v, got %v", DocOpenShift, doc.Code)
	}
	if doc.DriveNumber() != "87100042" {
		t.Fatalf("unexpected drive number %q", doc.DriveNumber())
	}
	if doc.DocNumber() != 77 {
		t.Fatalf("unexpected document number %d", doc.DocNumber())
	}
	if !reflect.DeepEqual(doc.Fields, fields) {
		t.Fatalf("fields do not match, expected %v and got %v", fields, doc.Fields)
	}
	if !bytes.Equal(doc.Raw, data) {
		t.Fatal("raw container bytes were not preserved")
	}
}

func TestParseContainerMismatchedCode(t *testing.T) {
	header := ContainerHeader{DocType: DocReceipt, DocNumber: 1}
	copy(header.DriveNumber[:], "87100042")

	data, err := PackContainer(header, []Field{
		{Tag: TagShiftNumber, Value: U32Value(1)},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Flip the header's document type so it contradicts the root tag.
	data[1] = byte(DocOpenShift)

	if _, err := ParseContainer(data, "1.05"); err == nil {
		t.Fatal("mismatched document code did not error")
	}
}
