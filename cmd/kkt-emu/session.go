// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ofdgate/ofdgate/pkg/fiscal"
	"github.com/ofdgate/ofdgate/pkg/gateway"
	"github.com/ofdgate/ofdgate/pkg/ofdp"
)

// docSender is the part of a gateway.Client the emulator exercises per
// document.
type docSender interface {
	SendDocument(container []byte) (ofdp.Message, error)
}

// dial connects to the gateway over the requested transport and returns the
// Client together with a function closing the underlying connection.
func dial(network, address, drive, regId string) (*gateway.Client, func(), error) {
	switch network {
	case "tcp":
		client, conn, err := gateway.Dial(address, ofdp.VersionFFD105, drive, regId)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = conn.Close() }, nil

	case "quic":
		client, conn, err := gateway.DialQUIC(address, ofdp.VersionFFD105, drive, regId)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = conn.CloseWithError(0, "") }, nil

	default:
		return nil, nil, fmt.Errorf("unknown network %q, expected tcp or quic", network)
	}
}

// shift fabricates a plausible sequence of fiscal documents: numbers are
// monotonic, sums add up and timestamps advance.
type shift struct {
	drive  string
	regId  string
	number uint32

	docNumber uint32
	request   uint32
	clock     time.Time
}

func newShift(drive, regId string) *shift {
	return &shift{
		drive:  drive,
		regId:  regId,
		number: 1,

		docNumber: uint32(rand.Intn(1000) + 1),
		clock:     time.Now().UTC().Truncate(time.Second),
	}
}

// next advances the document number and the emulated wall clock.
func (s *shift) next() uint32 {
	s.docNumber++
	s.clock = s.clock.Add(time.Duration(rand.Intn(90)+5) * time.Second)
	return s.docNumber
}

func (s *shift) pack(code fiscal.DocCode, fields []fiscal.Field) []byte {
	header := fiscal.ContainerHeader{DocType: code, DocNumber: s.docNumber}
	copy(header.DriveNumber[:], s.drive)

	data, err := fiscal.PackContainer(header, fields)
	if err != nil {
		log.WithError(err).Fatal("Packing a container errored")
	}
	return data
}

func (s *shift) open() []byte {
	s.next()
	return s.pack(fiscal.DocOpenShift, []fiscal.Field{
		{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(s.clock)},
		{Tag: fiscal.TagShiftNumber, Value: fiscal.U32Value(s.number)},
		{Tag: fiscal.TagUserInn, Value: fiscal.StringValue("7727563778")},
		{Tag: fiscal.TagKktRegId, Value: fiscal.StringValue(s.regId)},
		{Tag: fiscal.TagFiscalDocumentNumber, Value: fiscal.U32Value(s.docNumber)},
		{Tag: fiscal.TagOperator, Value: fiscal.StringValue("Кассир 1")},
	})
}

func (s *shift) receipt() []byte {
	s.next()
	s.request++

	price := fiscal.VLNValue(uint64(rand.Intn(99000)+1000) * 10)

	return s.pack(fiscal.DocReceipt, []fiscal.Field{
		{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(s.clock)},
		{Tag: fiscal.TagShiftNumber, Value: fiscal.U32Value(s.number)},
		{Tag: fiscal.TagRequestNumber, Value: fiscal.U32Value(s.request)},
		{Tag: fiscal.TagFiscalDocumentNumber, Value: fiscal.U32Value(s.docNumber)},
		{Tag: fiscal.TagOperationType, Value: fiscal.ByteValue(1)},
		{Tag: fiscal.TagTaxationType, Value: fiscal.ByteValue(1)},
		{Tag: fiscal.TagTotalSum, Value: price},
		{Tag: fiscal.TagCashTotalSum, Value: price},
		{Tag: fiscal.TagItems, Value: fiscal.STLVValue{
			{Tag: fiscal.TagItemName, Value: fiscal.StringValue("Товар")},
			{Tag: fiscal.TagPrice, Value: price},
			{Tag: fiscal.TagQuantity, Value: fiscal.FVLNValue{Point: 3, Num: 1000}},
			{Tag: fiscal.TagItemSum, Value: price},
		}},
	})
}

func (s *shift) close() []byte {
	s.next()
	return s.pack(fiscal.DocCloseShift, []fiscal.Field{
		{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(s.clock)},
		{Tag: fiscal.TagShiftNumber, Value: fiscal.U32Value(s.number)},
		{Tag: fiscal.TagFiscalDocumentNumber, Value: fiscal.U32Value(s.docNumber)},
		{Tag: fiscal.TagReceiptsQuantity, Value: fiscal.U32Value(s.request)},
	})
}
