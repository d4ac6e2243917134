// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dispatch

import (
	"time"

	"github.com/ofdgate/ofdgate/pkg/fiscal"
)

// buildReceipt assembles the operator confirmation container that travels
// back to the fiscal drive inside a positive acknowledgement. It mirrors
// the stored document's identity and carries the operator's response code
// zero inside the messageToFn block.
func buildReceipt(doc *fiscal.Document, ofdInn string, confirmed time.Time) ([]byte, error) {
	header := fiscal.ContainerHeader{
		DocType:     fiscal.DocOperatorAck,
		DriveNumber: doc.Header.DriveNumber,
		DocNumber:   doc.Header.DocNumber,
	}

	fields := []fiscal.Field{
		{Tag: fiscal.TagOfdInn, Value: fiscal.StringValue(ofdInn)},
		{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(confirmed)},
		{Tag: fiscal.TagFiscalDriveNumber, Value: fiscal.StringValue(doc.DriveNumber())},
		{Tag: fiscal.TagFiscalDocumentNumber, Value: fiscal.U32Value(doc.DocNumber())},
		{Tag: fiscal.TagMessageToFn, Value: fiscal.STLVValue{
			{Tag: fiscal.TagOfdResponseCode, Value: fiscal.ByteValue(0)},
		}},
	}

	return fiscal.PackContainer(header, fields)
}
