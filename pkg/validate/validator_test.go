// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package validate

import (
	"reflect"
	"testing"
	"time"

	"github.com/ofdgate/ofdgate/pkg/fiscal"
	"github.com/ofdgate/ofdgate/pkg/schema"
)

func testValidator(t *testing.T, strict bool) *Validator {
	t.Helper()

	table, err := schema.Builtin(strict)
	if err != nil {
		t.Fatal(err)
	}

	v := NewValidator(table)
	v.MinDate = time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC)
	v.FutureWindow = 24 * time.Hour
	return v
}

func makeDoc(code fiscal.DocCode, version string, fields ...fiscal.Field) *fiscal.Document {
	header := fiscal.ContainerHeader{DocType: code, DocNumber: 42}
	copy(header.DriveNumber[:], "87100042")

	return &fiscal.Document{
		Code:    code,
		Version: version,
		Header:  header,
		Fields:  fields,
	}
}

func openShiftDoc(version string) *fiscal.Document {
	return makeDoc(fiscal.DocOpenShift, version,
		fiscal.Field{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(time.Now().UTC().Truncate(time.Second))},
		fiscal.Field{Tag: fiscal.TagShiftNumber, Value: fiscal.U32Value(1)},
		fiscal.Field{Tag: fiscal.TagUserInn, Value: fiscal.StringValue("7704358518")},
		fiscal.Field{Tag: fiscal.TagKktRegId, Value: fiscal.StringValue("0000000001053311")},
		fiscal.Field{Tag: fiscal.TagFiscalDocumentNumber, Value: fiscal.U32Value(42)},
	)
}

func receiptDoc(version string, extra ...fiscal.Field) *fiscal.Document {
	fields := []fiscal.Field{
		{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(time.Now().UTC().Truncate(time.Second))},
		{Tag: fiscal.TagShiftNumber, Value: fiscal.U32Value(1)},
		{Tag: fiscal.TagRequestNumber, Value: fiscal.U32Value(7)},
		{Tag: fiscal.TagFiscalDocumentNumber, Value: fiscal.U32Value(43)},
		{Tag: fiscal.TagOperationType, Value: fiscal.ByteValue(1)},
		{Tag: fiscal.TagTaxationType, Value: fiscal.ByteValue(1)},
		{Tag: fiscal.TagTotalSum, Value: fiscal.VLNValue(10000)},
	}
	fields = append(fields, extra...)
	return makeDoc(fiscal.DocReceipt, version, fields...)
}

func TestValidateAccepted(t *testing.T) {
	v := testValidator(t, true)

	for _, doc := range []*fiscal.Document{
		openShiftDoc("1.0"),
		openShiftDoc("1.05"),
		receiptDoc("1.05",
			fiscal.Field{Tag: fiscal.TagCashTotalSum, Value: fiscal.VLNValue(10000)}),
	} {
		if result := v.Validate(doc); !result.Accepted() {
			t.Fatalf("%v was rejected: %v", doc, result.Violations)
		}
	}
}

func TestValidateFiscalReportCorrection(t *testing.T) {
	v := testValidator(t, true)

	report := func(version string, extra ...fiscal.Field) *fiscal.Document {
		fields := []fiscal.Field{
			{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(time.Now().UTC().Truncate(time.Second))},
			{Tag: fiscal.TagUserInn, Value: fiscal.StringValue("7704358518")},
			{Tag: fiscal.TagKktRegId, Value: fiscal.StringValue("0000000001053311")},
			{Tag: fiscal.TagFiscalDriveNumber, Value: fiscal.StringValue("8710000100518392")},
			{Tag: fiscal.TagFiscalDocumentNumber, Value: fiscal.U32Value(42)},
		}
		fields = append(fields, extra...)
		return makeDoc(fiscal.DocFiscalReportCorrection, version, fields...)
	}

	// The registration-change report exists in every supported version.
	for _, version := range schema.BuiltinVersions {
		if result := v.Validate(report(version)); !result.Accepted() {
			t.Fatalf("version %s was rejected: %v", version, result.Violations)
		}
	}

	// The correction block is optional, but an empty reference within it
	// is not.
	emptyBase := fiscal.Field{Tag: fiscal.TagCorrectionBase, Value: fiscal.STLVValue{
		{Tag: fiscal.TagCorrectionName, Value: fiscal.StringValue("address change")},
		{Tag: fiscal.TagCorrectionDocDate, Value: fiscal.TimeValue(time.Now().UTC().Add(-time.Hour))},
		{Tag: fiscal.TagCorrectionDocNumber, Value: fiscal.StringValue("")},
	}}

	result := v.Validate(report("1.05", emptyBase))
	if result.Accepted() {
		t.Fatal("report without a referenced document was accepted")
	}
	if first := result.First(); first.Rule != schema.RuleCorrectionReference {
		t.Fatalf("unexpected first violation %v", first)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	v := testValidator(t, true)

	doc := makeDoc(fiscal.DocReceipt, "1.05",
		fiscal.Field{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(time.Now().UTC())},
		fiscal.Field{Tag: fiscal.TagShiftNumber, Value: fiscal.U32Value(1)},
		fiscal.Field{Tag: fiscal.TagRequestNumber, Value: fiscal.U32Value(7)},
		fiscal.Field{Tag: fiscal.TagFiscalDocumentNumber, Value: fiscal.U32Value(43)},
		fiscal.Field{Tag: fiscal.TagOperationType, Value: fiscal.ByteValue(1)},
		fiscal.Field{Tag: fiscal.TagTaxationType, Value: fiscal.ByteValue(1)},
		// totalSum intentionally absent
	)

	result := v.Validate(doc)
	if result.Accepted() {
		t.Fatal("document without totalSum was accepted")
	}

	first := result.First()
	if first.Kind != MissingRequired || first.Path != "receipt.totalSum" {
		t.Fatalf("unexpected first violation %v", first)
	}
}

func TestValidateDeterminism(t *testing.T) {
	v := testValidator(t, true)

	// Malformed on several counts: missing required tags, wrong type,
	// unexpected tag.
	doc := makeDoc(fiscal.DocReceipt, "1.05",
		fiscal.Field{Tag: fiscal.TagTotalSum, Value: fiscal.StringValue("ten")},
		fiscal.Field{Tag: fiscal.TagOfdName, Value: fiscal.StringValue("x")},
	)

	first := v.Validate(doc)
	second := v.Validate(doc)

	if first.Accepted() {
		t.Fatal("malformed document was accepted")
	}
	if !reflect.DeepEqual(first.Violations, second.Violations) {
		t.Fatalf("validation is not deterministic: %v != %v", first.Violations, second.Violations)
	}
}

func TestValidateViolationOrder(t *testing.T) {
	v := testValidator(t, true)

	doc := makeDoc(fiscal.DocReceipt, "1.05",
		// Wire order deliberately scrambled; violations must follow the
		// schema declaration order instead.
		fiscal.Field{Tag: fiscal.TagTaxationType, Value: fiscal.ByteValue(1)},
		fiscal.Field{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(time.Now().UTC())},
	)

	result := v.Validate(doc)

	expected := []string{
		"receipt.shiftNumber",
		"receipt.requestNumber",
		"receipt.fiscalDocumentNumber",
		"receipt.operationType",
		"receipt.totalSum",
	}

	if len(result.Violations) != len(expected) {
		t.Fatalf("expected %d violations, got %v", len(expected), result.Violations)
	}
	for i, path := range expected {
		if result.Violations[i].Path != path {
			t.Fatalf("violation %d: expected %s, got %s", i, path, result.Violations[i].Path)
		}
	}
}

func TestValidateStrictVsLenientUnknown(t *testing.T) {
	unknownField := fiscal.Field{Tag: fiscal.Tag(60123), Value: fiscal.BytesValue([]byte{0x01}), Unknown: true}

	strict := testValidator(t, true)
	result := strict.Validate(receiptDoc("1.05", unknownField))
	if result.Accepted() {
		t.Fatal("strict mode accepted an undeclared tag")
	}
	if first := result.First(); first.Kind != UnexpectedField || first.Tag != unknownField.Tag {
		t.Fatalf("unexpected first violation %v", first)
	}

	lenient := testValidator(t, false)
	result = lenient.Validate(receiptDoc("1.05", unknownField))
	if !result.Accepted() {
		t.Fatalf("lenient mode rejected an undeclared tag: %v", result.Violations)
	}
	if len(result.Unknown) != 1 || result.Unknown[0] != unknownField.Tag {
		t.Fatalf("unknown tag was not recorded: %v", result.Unknown)
	}
}

func TestValidateUnsupportedVersion(t *testing.T) {
	strict := testValidator(t, true)
	result := strict.Validate(openShiftDoc("9.9"))
	if result.Accepted() || result.First().Kind != UnsupportedVersion {
		t.Fatalf("unexpected result for unknown version: %v", result.Violations)
	}

	lenient := testValidator(t, false)
	lenient.Lenient = true
	if result := lenient.Validate(openShiftDoc("9.9")); !result.Accepted() {
		t.Fatalf("lenient validator rejected unknown version: %v", result.Violations)
	}
}

func TestRuleTotalsConsistent(t *testing.T) {
	v := testValidator(t, true)

	doc := receiptDoc("1.05",
		fiscal.Field{Tag: fiscal.TagCashTotalSum, Value: fiscal.VLNValue(4000)},
		fiscal.Field{Tag: fiscal.TagEcashTotalSum, Value: fiscal.VLNValue(5000)},
	)

	result := v.Validate(doc)
	if result.Accepted() {
		t.Fatal("inconsistent totals were accepted")
	}
	if first := result.First(); first.Rule != schema.RuleTotalsConsistent {
		t.Fatalf("unexpected first violation %v", first)
	}

	doc = receiptDoc("1.05",
		fiscal.Field{Tag: fiscal.TagCashTotalSum, Value: fiscal.VLNValue(4000)},
		fiscal.Field{Tag: fiscal.TagEcashTotalSum, Value: fiscal.VLNValue(5000)},
		fiscal.Field{Tag: fiscal.TagPrepaidSum, Value: fiscal.VLNValue(1000)},
	)
	if result := v.Validate(doc); !result.Accepted() {
		t.Fatalf("consistent totals were rejected: %v", result.Violations)
	}
}

func TestRuleCorrectionReference(t *testing.T) {
	v := testValidator(t, true)

	base := func(number string) fiscal.Field {
		return fiscal.Field{Tag: fiscal.TagCorrectionBase, Value: fiscal.STLVValue{
			{Tag: fiscal.TagCorrectionName, Value: fiscal.StringValue("self-correction")},
			{Tag: fiscal.TagCorrectionDocDate, Value: fiscal.TimeValue(time.Now().UTC().Add(-time.Hour))},
			{Tag: fiscal.TagCorrectionDocNumber, Value: fiscal.StringValue(number)},
		}}
	}

	correction := func(baseField fiscal.Field) *fiscal.Document {
		doc := receiptDoc("1.05",
			fiscal.Field{Tag: fiscal.TagCorrectionType, Value: fiscal.ByteValue(0)},
			baseField,
		)
		doc.Code = fiscal.DocReceiptCorrection
		doc.Header.DocType = fiscal.DocReceiptCorrection
		return doc
	}

	if result := v.Validate(correction(base("12345"))); !result.Accepted() {
		t.Fatalf("valid correction was rejected: %v", result.Violations)
	}

	result := v.Validate(correction(base("")))
	if result.Accepted() {
		t.Fatal("correction without a referenced document was accepted")
	}
	if first := result.First(); first.Rule != schema.RuleCorrectionReference {
		t.Fatalf("unexpected first violation %v", first)
	}
}

func TestRuleDateWindow(t *testing.T) {
	v := testValidator(t, true)

	past := openShiftDoc("1.05")
	past.Fields[0] = fiscal.Field{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC))}
	if result := v.Validate(past); result.Accepted() {
		t.Fatal("document before the minimum date was accepted")
	}

	future := openShiftDoc("1.05")
	future.Fields[0] = fiscal.Field{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(time.Now().UTC().Add(48 * time.Hour))}
	result := v.Validate(future)
	if result.Accepted() {
		t.Fatal("document from the far future was accepted")
	}
	if first := result.First(); first.Rule != schema.RuleDateWindow {
		t.Fatalf("unexpected first violation %v", first)
	}
}
