// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package schema

import "github.com/ofdgate/ofdgate/pkg/fiscal"

// Rule names understood by the validator.
const (
	RuleTotalsConsistent    = "totals-consistent"
	RuleCorrectionReference = "correction-reference"
	RuleDateWindow          = "date-window"
)

// BuiltinVersions are the protocol versions with built-in schemas.
var BuiltinVersions = []string{"1.0", "1.05", "1.1"}

func req(tag fiscal.Tag) FieldSpec { return fieldSpec(tag, true) }
func opt(tag fiscal.Tag) FieldSpec { return fieldSpec(tag, false) }

func fieldSpec(tag fiscal.Tag, required bool) FieldSpec {
	spec, ok := fiscal.LookupTag(tag)
	if !ok {
		panic("builtin schema references unknown tag")
	}
	return FieldSpec{Tag: tag, Name: spec.Name, Kind: spec.Kind, Required: required}
}

func repeated(spec FieldSpec) FieldSpec {
	spec.Repeatable = true
	return spec
}

func nested(spec FieldSpec, members ...FieldSpec) FieldSpec {
	spec.Nested = members
	return spec
}

// itemFields is the contract of one receipt item (tag 1059) group.
func itemFields(version string) []FieldSpec {
	fields := []FieldSpec{
		req(fiscal.TagItemName),
		req(fiscal.TagPrice),
		req(fiscal.TagQuantity),
		req(fiscal.TagItemSum),
		opt(fiscal.TagNds),
		opt(fiscal.TagNdsSum),
	}
	if version == "1.1" {
		fields = append(fields, opt(fiscal.TagProductCode))
	}
	return fields
}

func receiptFields(version string) []FieldSpec {
	fields := []FieldSpec{
		req(fiscal.TagDateTime),
		req(fiscal.TagShiftNumber),
		req(fiscal.TagRequestNumber),
		req(fiscal.TagFiscalDocumentNumber),
		req(fiscal.TagOperationType),
		req(fiscal.TagTaxationType),
		req(fiscal.TagTotalSum),
		opt(fiscal.TagCashTotalSum),
		opt(fiscal.TagEcashTotalSum),
		repeated(nested(opt(fiscal.TagItems), itemFields(version)...)),
		opt(fiscal.TagOperator),
		opt(fiscal.TagOperatorInn),
		opt(fiscal.TagBuyerPhoneOrAddress),
		opt(fiscal.TagRetailAddress),
		opt(fiscal.TagFiscalSign),
	}
	if version != "1.0" {
		fields = append(fields,
			opt(fiscal.TagPrepaidSum),
			opt(fiscal.TagCreditSum),
			opt(fiscal.TagProvisionSum),
		)
	}
	return fields
}

func correctionFields(version string) []FieldSpec {
	return append(receiptFields(version),
		req(fiscal.TagCorrectionType),
		nested(req(fiscal.TagCorrectionBase),
			req(fiscal.TagCorrectionName),
			req(fiscal.TagCorrectionDocDate),
			req(fiscal.TagCorrectionDocNumber),
		),
	)
}

func shiftOpenFields() []FieldSpec {
	return []FieldSpec{
		req(fiscal.TagDateTime),
		req(fiscal.TagShiftNumber),
		req(fiscal.TagUserInn),
		req(fiscal.TagKktRegId),
		req(fiscal.TagFiscalDocumentNumber),
		opt(fiscal.TagOperator),
		opt(fiscal.TagOperatorInn),
		opt(fiscal.TagFiscalDriveNumber),
		opt(fiscal.TagRetailAddress),
		opt(fiscal.TagFiscalSign),
	}
}

func shiftCloseFields() []FieldSpec {
	return []FieldSpec{
		req(fiscal.TagDateTime),
		req(fiscal.TagShiftNumber),
		req(fiscal.TagFiscalDocumentNumber),
		opt(fiscal.TagDocumentsQuantity),
		opt(fiscal.TagReceiptsQuantity),
		opt(fiscal.TagNotTransmittedCount),
		opt(fiscal.TagNotTransmittedTime),
		opt(fiscal.TagOperator),
		opt(fiscal.TagFiscalSign),
	}
}

func fiscalReportFields() []FieldSpec {
	return []FieldSpec{
		req(fiscal.TagDateTime),
		req(fiscal.TagUserInn),
		req(fiscal.TagKktRegId),
		req(fiscal.TagFiscalDriveNumber),
		req(fiscal.TagFiscalDocumentNumber),
		opt(fiscal.TagUser),
		opt(fiscal.TagRegTaxationType),
		opt(fiscal.TagAutoMode),
		opt(fiscal.TagOfflineMode),
		opt(fiscal.TagRetailAddress),
		opt(fiscal.TagFiscalSign),
	}
}

// fiscalReportCorrectionFields describes the registration-change report: a
// fiscal report carrying the correction block naming what changed and why.
func fiscalReportCorrectionFields() []FieldSpec {
	return append(fiscalReportFields(),
		opt(fiscal.TagCorrectionType),
		nested(opt(fiscal.TagCorrectionBase),
			req(fiscal.TagCorrectionName),
			req(fiscal.TagCorrectionDocDate),
			req(fiscal.TagCorrectionDocNumber),
		),
	)
}

func closeArchiveFields() []FieldSpec {
	return []FieldSpec{
		req(fiscal.TagDateTime),
		req(fiscal.TagFiscalDocumentNumber),
		req(fiscal.TagFiscalDriveNumber),
		opt(fiscal.TagShiftNumber),
		opt(fiscal.TagFiscalSign),
	}
}

func stateReportFields() []FieldSpec {
	return []FieldSpec{
		req(fiscal.TagDateTime),
		req(fiscal.TagFiscalDocumentNumber),
		opt(fiscal.TagNotTransmittedCount),
		opt(fiscal.TagNotTransmittedTime),
		opt(fiscal.TagShiftNumber),
		opt(fiscal.TagFiscalSign),
	}
}

// Builtin returns the compiled-in schema table. The strict flag is applied
// to every schema; lenient deployments record unknown tags instead of
// rejecting them.
func Builtin(strict bool) (*Table, error) {
	var schemas []*Schema

	for _, version := range BuiltinVersions {
		schemas = append(schemas,
			&Schema{
				Code: fiscal.DocFiscalReport, Version: version, Strict: strict,
				Fields: fiscalReportFields(),
				Rules:  []string{RuleDateWindow},
			},
			&Schema{
				Code: fiscal.DocFiscalReportCorrection, Version: version, Strict: strict,
				Fields: fiscalReportCorrectionFields(),
				Rules:  []string{RuleDateWindow, RuleCorrectionReference},
			},
			&Schema{
				Code: fiscal.DocOpenShift, Version: version, Strict: strict,
				Fields: shiftOpenFields(),
				Rules:  []string{RuleDateWindow},
			},
			&Schema{
				Code: fiscal.DocReceipt, Version: version, Strict: strict,
				Fields: receiptFields(version),
				Rules:  []string{RuleDateWindow, RuleTotalsConsistent},
			},
			&Schema{
				Code: fiscal.DocBso, Version: version, Strict: strict,
				Fields: receiptFields(version),
				Rules:  []string{RuleDateWindow, RuleTotalsConsistent},
			},
			&Schema{
				Code: fiscal.DocCloseShift, Version: version, Strict: strict,
				Fields: shiftCloseFields(),
				Rules:  []string{RuleDateWindow},
			},
			&Schema{
				Code: fiscal.DocCloseArchive, Version: version, Strict: strict,
				Fields: closeArchiveFields(),
				Rules:  []string{RuleDateWindow},
			},
			&Schema{
				Code: fiscal.DocCurrentStateReport, Version: version, Strict: strict,
				Fields: stateReportFields(),
				Rules:  []string{RuleDateWindow},
			},
			&Schema{
				Code: fiscal.DocReceiptCorrection, Version: version, Strict: strict,
				Fields: correctionFields(version),
				Rules:  []string{RuleDateWindow, RuleTotalsConsistent, RuleCorrectionReference},
			},
			&Schema{
				Code: fiscal.DocBsoCorrection, Version: version, Strict: strict,
				Fields: correctionFields(version),
				Rules:  []string{RuleDateWindow, RuleTotalsConsistent, RuleCorrectionReference},
			},
		)
	}

	return NewTable(schemas...)
}
