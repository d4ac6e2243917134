// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package validate

import (
	"time"

	"github.com/ofdgate/ofdgate/pkg/fiscal"
	"github.com/ofdgate/ofdgate/pkg/schema"
)

// ruleFunc is a named cross-field check, evaluated after the structural pass
// succeeded.
type ruleFunc func(v *Validator, doc *fiscal.Document, s *schema.Schema) []Violation

var rules = map[string]ruleFunc{
	schema.RuleTotalsConsistent:    ruleTotalsConsistent,
	schema.RuleCorrectionReference: ruleCorrectionReference,
	schema.RuleDateWindow:          ruleDateWindow,
}

// ruleTotalsConsistent checks that the payment breakdown adds up to the
// declared total. Devices on protocol 1.0 omit the prepaid/credit/provision
// tags; absent tags count as zero.
func ruleTotalsConsistent(_ *Validator, doc *fiscal.Document, s *schema.Schema) []Violation {
	_, hasCash := doc.Field(fiscal.TagCashTotalSum)
	_, hasEcash := doc.Field(fiscal.TagEcashTotalSum)
	if !hasCash && !hasEcash {
		// No breakdown present, nothing to cross-check.
		return nil
	}

	sum := doc.Uint(fiscal.TagCashTotalSum) +
		doc.Uint(fiscal.TagEcashTotalSum) +
		doc.Uint(fiscal.TagPrepaidSum) +
		doc.Uint(fiscal.TagCreditSum) +
		doc.Uint(fiscal.TagProvisionSum)

	if sum != doc.Uint(fiscal.TagTotalSum) {
		return []Violation{{
			Path: s.Code.String() + ".totalSum",
			Kind: RuleViolated,
			Tag:  fiscal.TagTotalSum,
			Rule: schema.RuleTotalsConsistent,
		}}
	}
	return nil
}

// ruleCorrectionReference requires a correction document to reference the
// corrected document through its correctionBase group.
func ruleCorrectionReference(_ *Validator, doc *fiscal.Document, s *schema.Schema) []Violation {
	base, ok := doc.Field(fiscal.TagCorrectionBase)
	if !ok {
		// Presence is already enforced structurally.
		return nil
	}

	group, ok := base.Value.(fiscal.STLVValue)
	if !ok {
		return nil
	}

	path := s.Code.String() + ".correctionBase"

	number, ok := fiscal.FindField(group, fiscal.TagCorrectionDocNumber)
	if !ok || number.Value.(fiscal.StringValue) == "" {
		return []Violation{{
			Path: path + ".correctionDocumentNumber",
			Kind: RuleViolated,
			Tag:  fiscal.TagCorrectionDocNumber,
			Rule: schema.RuleCorrectionReference,
		}}
	}

	date, ok := fiscal.FindField(group, fiscal.TagCorrectionDocDate)
	if !ok || time.Time(date.Value.(fiscal.TimeValue)).IsZero() {
		return []Violation{{
			Path: path + ".correctionDocumentDate",
			Kind: RuleViolated,
			Tag:  fiscal.TagCorrectionDocDate,
			Rule: schema.RuleCorrectionReference,
		}}
	}

	return nil
}

// ruleDateWindow bounds the document's timestamp: not before the configured
// minimum date, not further in the future than the configured window.
func ruleDateWindow(v *Validator, doc *fiscal.Document, s *schema.Schema) []Violation {
	ts := doc.Time(fiscal.TagDateTime)
	if ts.IsZero() {
		return nil
	}

	path := s.Code.String() + ".dateTime"

	if !v.MinDate.IsZero() && ts.Before(v.MinDate) {
		return []Violation{{
			Path: path,
			Kind: RuleViolated,
			Tag:  fiscal.TagDateTime,
			Rule: schema.RuleDateWindow,
		}}
	}

	if v.FutureWindow > 0 && ts.After(time.Now().UTC().Add(v.FutureWindow)) {
		return []Violation{{
			Path: path,
			Kind: RuleViolated,
			Tag:  fiscal.TagDateTime,
			Rule: schema.RuleDateWindow,
		}}
	}

	return nil
}
