// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fiscal

import "fmt"

// Tag is a fiscal attribute number as assigned by the Federal Tax Service's
// fiscal data format (FFD). Tags key every value inside a document's TLV body.
type Tag uint16

// TagKind describes the wire encoding of a tag's value.
type TagKind uint8

const (
	// KindByte is a single-byte unsigned integer.
	KindByte TagKind = iota

	// KindU32 is a little-endian uint32.
	KindU32

	// KindString is a CP866-encoded character string.
	KindString

	// KindBytes is an opaque byte string.
	KindBytes

	// KindUnixTime is a little-endian uint32 Unix timestamp.
	KindUnixTime

	// KindVLN is a variable-length little-endian unsigned number.
	KindVLN

	// KindFVLN is a variable-length fixed-point number; the first byte holds
	// the decimal point's position from the right.
	KindFVLN

	// KindSTLV is a nested TLV structure.
	KindSTLV
)

func (tk TagKind) String() string {
	switch tk {
	case KindByte:
		return "byte"
	case KindU32:
		return "uint32"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindUnixTime:
		return "unixTime"
	case KindVLN:
		return "vln"
	case KindFVLN:
		return "fvln"
	case KindSTLV:
		return "stlv"
	default:
		return "INVALID"
	}
}

// TagSpec describes a known tag: its FNS name, value kind and the maximum
// encoded length in bytes.
type TagSpec struct {
	Tag    Tag
	Name   string
	Kind   TagKind
	MaxLen int
}

// Well-known tags of the fiscal data format. The set is closed; tags outside
// of it land in a Document's Unknown bucket.
const (
	TagAutoMode              Tag = 1001
	TagOfflineMode           Tag = 1002
	TagBuyerPhoneOrAddress   Tag = 1008
	TagRetailAddress         Tag = 1009
	TagDateTime              Tag = 1012
	TagKktNumber             Tag = 1013
	TagOfdInn                Tag = 1017
	TagUserInn               Tag = 1018
	TagTotalSum              Tag = 1020
	TagOperator              Tag = 1021
	TagOfdResponseCode       Tag = 1022
	TagQuantity              Tag = 1023
	TagItemName              Tag = 1030
	TagCashTotalSum          Tag = 1031
	TagMachineNumber         Tag = 1036
	TagKktRegId              Tag = 1037
	TagShiftNumber           Tag = 1038
	TagFiscalDocumentNumber  Tag = 1040
	TagFiscalDriveNumber     Tag = 1041
	TagRequestNumber         Tag = 1042
	TagItemSum               Tag = 1043
	TagOfdName               Tag = 1046
	TagUser                  Tag = 1048
	TagOperationType         Tag = 1054
	TagTaxationType          Tag = 1055
	TagItems                 Tag = 1059
	TagFnsSite               Tag = 1060
	TagRegTaxationType       Tag = 1062
	TagMessageToFn           Tag = 1068
	TagFiscalSign            Tag = 1077
	TagPrice                 Tag = 1079
	TagEcashTotalSum         Tag = 1081
	TagNotTransmittedCount   Tag = 1097
	TagNotTransmittedTime    Tag = 1098
	TagDocumentsQuantity     Tag = 1111
	TagReceiptsQuantity      Tag = 1118
	TagProductCode           Tag = 1162
	TagCorrectionType        Tag = 1173
	TagCorrectionBase        Tag = 1174
	TagCorrectionName        Tag = 1177
	TagCorrectionDocDate     Tag = 1178
	TagCorrectionDocNumber   Tag = 1179
	TagRetailPlace           Tag = 1187
	TagKktVersion            Tag = 1188
	TagNds                   Tag = 1199
	TagNdsSum                Tag = 1200
	TagOperatorInn           Tag = 1203
	TagPaymentType           Tag = 1214
	TagPrepaidSum            Tag = 1215
	TagCreditSum             Tag = 1216
	TagProvisionSum          Tag = 1217
	TagFiscalSignOperator    Tag = 1078
	TagFiscalDocumentFormat  Tag = 1209
)

// tagSpecs is the closed dictionary of known tags. Names follow the FNS
// JSON naming used by the OFD-to-FNS channel.
var tagSpecs = map[Tag]TagSpec{
	TagAutoMode:             {TagAutoMode, "autoMode", KindByte, 1},
	TagOfflineMode:          {TagOfflineMode, "offlineMode", KindByte, 1},
	TagBuyerPhoneOrAddress:  {TagBuyerPhoneOrAddress, "buyerPhoneOrAddress", KindString, 64},
	TagRetailAddress:        {TagRetailAddress, "retailAddress", KindString, 256},
	TagDateTime:             {TagDateTime, "dateTime", KindUnixTime, 4},
	TagKktNumber:            {TagKktNumber, "kktNumber", KindString, 20},
	TagOfdInn:               {TagOfdInn, "ofdInn", KindString, 12},
	TagUserInn:              {TagUserInn, "userInn", KindString, 12},
	TagTotalSum:             {TagTotalSum, "totalSum", KindVLN, 8},
	TagOperator:             {TagOperator, "operator", KindString, 64},
	TagOfdResponseCode:      {TagOfdResponseCode, "ofdResponseCode", KindByte, 1},
	TagQuantity:             {TagQuantity, "quantity", KindFVLN, 8},
	TagItemName:             {TagItemName, "name", KindString, 128},
	TagCashTotalSum:         {TagCashTotalSum, "cashTotalSum", KindVLN, 8},
	TagMachineNumber:        {TagMachineNumber, "machineNumber", KindString, 20},
	TagKktRegId:             {TagKktRegId, "kktRegId", KindString, 20},
	TagShiftNumber:          {TagShiftNumber, "shiftNumber", KindU32, 4},
	TagFiscalDocumentNumber: {TagFiscalDocumentNumber, "fiscalDocumentNumber", KindU32, 4},
	TagFiscalDriveNumber:    {TagFiscalDriveNumber, "fiscalDriveNumber", KindString, 16},
	TagRequestNumber:        {TagRequestNumber, "requestNumber", KindU32, 4},
	TagItemSum:              {TagItemSum, "sum", KindVLN, 8},
	TagOfdName:              {TagOfdName, "ofdName", KindString, 256},
	TagUser:                 {TagUser, "user", KindString, 256},
	TagOperationType:        {TagOperationType, "operationType", KindByte, 1},
	TagTaxationType:         {TagTaxationType, "taxationType", KindByte, 1},
	TagItems:                {TagItems, "items", KindSTLV, 328},
	TagFnsSite:              {TagFnsSite, "fnsSite", KindString, 64},
	TagRegTaxationType:      {TagRegTaxationType, "taxationType", KindByte, 1},
	TagMessageToFn:          {TagMessageToFn, "messageToFn", KindSTLV, 169},
	TagFiscalSign:           {TagFiscalSign, "fiscalSign", KindVLN, 6},
	TagFiscalSignOperator:   {TagFiscalSignOperator, "fiscalSignOperator", KindBytes, 18},
	TagPrice:                {TagPrice, "price", KindVLN, 8},
	TagEcashTotalSum:        {TagEcashTotalSum, "ecashTotalSum", KindVLN, 8},
	TagNotTransmittedCount:  {TagNotTransmittedCount, "notTransmittedDocumentsQuantity", KindU32, 4},
	TagNotTransmittedTime:   {TagNotTransmittedTime, "notTransmittedDocumentsDateTime", KindUnixTime, 4},
	TagDocumentsQuantity:    {TagDocumentsQuantity, "documentsQuantity", KindU32, 4},
	TagReceiptsQuantity:     {TagReceiptsQuantity, "receiptsQuantity", KindU32, 4},
	TagProductCode:          {TagProductCode, "productCode", KindBytes, 32},
	TagCorrectionType:       {TagCorrectionType, "correctionType", KindByte, 1},
	TagCorrectionBase:       {TagCorrectionBase, "correctionBase", KindSTLV, 292},
	TagCorrectionName:       {TagCorrectionName, "correctionName", KindString, 256},
	TagCorrectionDocDate:    {TagCorrectionDocDate, "correctionDocumentDate", KindUnixTime, 4},
	TagCorrectionDocNumber:  {TagCorrectionDocNumber, "correctionDocumentNumber", KindString, 32},
	TagRetailPlace:          {TagRetailPlace, "retailPlace", KindString, 256},
	TagKktVersion:           {TagKktVersion, "kktVersion", KindString, 8},
	TagNds:                  {TagNds, "nds", KindByte, 1},
	TagNdsSum:               {TagNdsSum, "ndsSum", KindVLN, 8},
	TagOperatorInn:          {TagOperatorInn, "operatorInn", KindString, 12},
	TagPaymentType:          {TagPaymentType, "paymentType", KindByte, 1},
	TagPrepaidSum:           {TagPrepaidSum, "prepaidSum", KindVLN, 8},
	TagCreditSum:            {TagCreditSum, "creditSum", KindVLN, 8},
	TagProvisionSum:         {TagProvisionSum, "provisionSum", KindVLN, 8},
	TagFiscalDocumentFormat: {TagFiscalDocumentFormat, "fiscalDocumentFormatVer", KindByte, 1},
}

// LookupTag returns the TagSpec for a known tag. The second return value
// reports if the tag is part of the closed dictionary.
func LookupTag(t Tag) (TagSpec, bool) {
	spec, ok := tagSpecs[t]
	return spec, ok
}

func (t Tag) String() string {
	if spec, ok := tagSpecs[t]; ok {
		return fmt.Sprintf("%d/%s", uint16(t), spec.Name)
	}
	return fmt.Sprintf("%d/<unknown>", uint16(t))
}
