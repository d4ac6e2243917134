// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fiscal

// DocCode identifies a fiscal document type, as carried both in the container
// header and as the root TLV tag of the document body.
type DocCode uint8

const (
	DocFiscalReport           DocCode = 1
	DocOpenShift              DocCode = 2
	DocReceipt                DocCode = 3
	DocBso                    DocCode = 4
	DocCloseShift             DocCode = 5
	DocCloseArchive           DocCode = 6
	DocOperatorAck            DocCode = 7
	DocFiscalReportCorrection DocCode = 11
	DocCurrentStateReport     DocCode = 21
	DocReceiptCorrection      DocCode = 31
	DocBsoCorrection          DocCode = 41
)

// docNames maps document codes to their FNS JSON names.
var docNames = map[DocCode]string{
	DocFiscalReport:           "fiscalReport",
	DocOpenShift:              "openShift",
	DocReceipt:                "receipt",
	DocBso:                    "bso",
	DocCloseShift:             "closeShift",
	DocCloseArchive:           "closeArchive",
	DocOperatorAck:            "operatorAck",
	DocFiscalReportCorrection: "fiscalReportCorrection",
	DocCurrentStateReport:     "currentStateReport",
	DocReceiptCorrection:      "receiptCorrection",
	DocBsoCorrection:          "bsoCorrection",
}

// docMaxLen caps the body length per document code.
var docMaxLen = map[DocCode]int{
	DocFiscalReport:           658,
	DocOpenShift:              440,
	DocReceipt:                32768,
	DocBso:                    32768,
	DocCloseShift:             441,
	DocCloseArchive:           432,
	DocOperatorAck:            512,
	DocFiscalReportCorrection: 658,
	DocCurrentStateReport:     32768,
	DocReceiptCorrection:      32768,
	DocBsoCorrection:          32768,
}

// Known reports if the code belongs to the protocol's document family.
func (dc DocCode) Known() bool {
	_, ok := docNames[dc]
	return ok
}

// IsCorrection reports if the document corrects a previously sent one.
func (dc DocCode) IsCorrection() bool {
	return dc == DocReceiptCorrection || dc == DocBsoCorrection || dc == DocFiscalReportCorrection
}

// IsPayment reports if the document settles a payment.
func (dc DocCode) IsPayment() bool {
	switch dc {
	case DocReceipt, DocReceiptCorrection, DocBso, DocBsoCorrection:
		return true
	default:
		return false
	}
}

// MaxLen is the maximum allowed body length for this document code.
func (dc DocCode) MaxLen() int {
	if l, ok := docMaxLen[dc]; ok {
		return l
	}
	return 0
}

func (dc DocCode) String() string {
	if name, ok := docNames[dc]; ok {
		return name
	}
	return "INVALID"
}
