// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ofdgate/ofdgate/pkg/fiscal"
	"github.com/ofdgate/ofdgate/pkg/ofdp"
	"github.com/ofdgate/ofdgate/pkg/schema"
	"github.com/ofdgate/ofdgate/pkg/validate"
)

// mockStore counts appends and optionally fails the first n of them.
type mockStore struct {
	appends   int
	transient int
	fatal     bool
}

func (ms *mockStore) Append(_ context.Context, rec *Record) (uint64, error) {
	ms.appends++
	if ms.fatal {
		return 0, fmt.Errorf("closed store")
	}
	if ms.transient > 0 {
		ms.transient--
		return 0, Transient(fmt.Errorf("store busy"))
	}
	return uint64(ms.appends), nil
}

func testDispatcher(t *testing.T, store Store) *Dispatcher {
	t.Helper()

	table, err := schema.Builtin(true)
	if err != nil {
		t.Fatal(err)
	}

	v := validate.NewValidator(table)
	v.MinDate = time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC)
	v.FutureWindow = 24 * time.Hour

	d := NewDispatcher(store, v, "7704358518")
	d.RetryDelay = time.Millisecond
	return d
}

func openShiftContainer(t *testing.T) []byte {
	t.Helper()

	header := fiscal.ContainerHeader{DocType: fiscal.DocOpenShift, DocNumber: 42}
	copy(header.DriveNumber[:], "87100042")

	data, err := fiscal.PackContainer(header, []fiscal.Field{
		{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(time.Now().UTC().Truncate(time.Second))},
		{Tag: fiscal.TagShiftNumber, Value: fiscal.U32Value(1)},
		{Tag: fiscal.TagUserInn, Value: fiscal.StringValue("7704358518")},
		{Tag: fiscal.TagKktRegId, Value: fiscal.StringValue("0000000001053311")},
		{Tag: fiscal.TagFiscalDocumentNumber, Value: fiscal.U32Value(42)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestProcessAck(t *testing.T) {
	store := &mockStore{}
	d := testDispatcher(t, store)

	answer := d.Process(context.Background(), "0000000001053311", "1.05",
		ofdp.NewDocMessage(7, openShiftContainer(t)))

	ack, ok := answer.(*ofdp.DocAckMessage)
	if !ok {
		t.Fatalf("answer is a %T instead of a DocAckMessage", answer)
	}
	if ack.Seq != 7 {
		t.Fatalf("ack sequence is %d instead of 7", ack.Seq)
	}
	if store.appends != 1 {
		t.Fatalf("store saw %d appends instead of 1", store.appends)
	}

	// The receipt must be a parsable operator confirmation addressed to the
	// stored document.
	receipt, err := fiscal.ParseContainer(ack.Receipt, "1.05")
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Code != fiscal.DocOperatorAck {
		t.Fatalf("receipt document code is %v", receipt.Code)
	}
	if receipt.DocNumber() != 42 {
		t.Fatalf("receipt addresses document %d instead of 42", receipt.DocNumber())
	}
	if receipt.Str(fiscal.TagOfdInn) != "7704358518" {
		t.Fatalf("receipt carries operator INN %q", receipt.Str(fiscal.TagOfdInn))
	}
}

func TestProcessMalformed(t *testing.T) {
	store := &mockStore{}
	d := testDispatcher(t, store)

	answer := d.Process(context.Background(), "0000000001053311", "1.05",
		ofdp.NewDocMessage(1, []byte{0x01, 0x02, 0x03}))

	nack, ok := answer.(*ofdp.DocNackMessage)
	if !ok {
		t.Fatalf("answer is a %T instead of a DocNackMessage", answer)
	}
	if nack.Code != ofdp.NackMalformed {
		t.Fatalf("nack code is %d instead of %d", nack.Code, ofdp.NackMalformed)
	}
	if store.appends != 0 {
		t.Fatal("a malformed document reached the store")
	}
}

func TestProcessValidationNack(t *testing.T) {
	store := &mockStore{}
	d := testDispatcher(t, store)

	// A receipt without its required totalSum.
	header := fiscal.ContainerHeader{DocType: fiscal.DocReceipt, DocNumber: 43}
	copy(header.DriveNumber[:], "87100042")
	container, err := fiscal.PackContainer(header, []fiscal.Field{
		{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(time.Now().UTC().Truncate(time.Second))},
		{Tag: fiscal.TagShiftNumber, Value: fiscal.U32Value(1)},
		{Tag: fiscal.TagRequestNumber, Value: fiscal.U32Value(7)},
		{Tag: fiscal.TagFiscalDocumentNumber, Value: fiscal.U32Value(43)},
		{Tag: fiscal.TagOperationType, Value: fiscal.ByteValue(1)},
		{Tag: fiscal.TagTaxationType, Value: fiscal.ByteValue(1)},
	})
	if err != nil {
		t.Fatal(err)
	}

	answer := d.Process(context.Background(), "0000000001053311", "1.05",
		ofdp.NewDocMessage(2, container))

	nack, ok := answer.(*ofdp.DocNackMessage)
	if !ok {
		t.Fatalf("answer is a %T instead of a DocNackMessage", answer)
	}
	if nack.Code != ofdp.NackValidation {
		t.Fatalf("nack code is %d instead of %d", nack.Code, ofdp.NackValidation)
	}
	if nack.Path != "receipt.totalSum" {
		t.Fatalf("nack path is %q", nack.Path)
	}
	if store.appends != 0 {
		t.Fatal("an invalid document reached the store")
	}
}

func TestProcessUnsupportedVersion(t *testing.T) {
	store := &mockStore{}
	d := testDispatcher(t, store)

	answer := d.Process(context.Background(), "0000000001053311", "0.9",
		ofdp.NewDocMessage(3, openShiftContainer(t)))

	nack, ok := answer.(*ofdp.DocNackMessage)
	if !ok {
		t.Fatalf("answer is a %T instead of a DocNackMessage", answer)
	}
	if nack.Code != ofdp.NackUnsupportedVersion {
		t.Fatalf("nack code is %d instead of %d", nack.Code, ofdp.NackUnsupportedVersion)
	}
}

func TestProcessRetriesTransient(t *testing.T) {
	store := &mockStore{transient: 2}
	d := testDispatcher(t, store)

	answer := d.Process(context.Background(), "0000000001053311", "1.05",
		ofdp.NewDocMessage(4, openShiftContainer(t)))

	if _, ok := answer.(*ofdp.DocAckMessage); !ok {
		t.Fatalf("answer is a %T instead of a DocAckMessage", answer)
	}
	if store.appends != 3 {
		t.Fatalf("store saw %d appends instead of 3", store.appends)
	}
}

func TestProcessStorageExhausted(t *testing.T) {
	store := &mockStore{transient: 10}
	d := testDispatcher(t, store)

	answer := d.Process(context.Background(), "0000000001053311", "1.05",
		ofdp.NewDocMessage(5, openShiftContainer(t)))

	nack, ok := answer.(*ofdp.DocNackMessage)
	if !ok {
		t.Fatalf("answer is a %T instead of a DocNackMessage", answer)
	}
	if nack.Code != ofdp.NackStorageTransient {
		t.Fatalf("nack code is %d instead of %d", nack.Code, ofdp.NackStorageTransient)
	}
	if store.appends != d.MaxRetries+1 {
		t.Fatalf("store saw %d appends instead of %d", store.appends, d.MaxRetries+1)
	}
}

func TestProcessSessionGone(t *testing.T) {
	store := &mockStore{}
	d := testDispatcher(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The append commits even though the session is gone; there is nobody
	// left to answer, so no message comes back.
	answer := d.Process(ctx, "0000000001053311", "1.05",
		ofdp.NewDocMessage(8, openShiftContainer(t)))

	if answer != nil {
		t.Fatalf("a closed session still got a %T answer", answer)
	}
	if store.appends != 1 {
		t.Fatalf("store saw %d appends instead of 1", store.appends)
	}
}

func TestProcessFatalStorage(t *testing.T) {
	store := &mockStore{fatal: true}
	d := testDispatcher(t, store)

	answer := d.Process(context.Background(), "0000000001053311", "1.05",
		ofdp.NewDocMessage(6, openShiftContainer(t)))

	nack, ok := answer.(*ofdp.DocNackMessage)
	if !ok {
		t.Fatalf("answer is a %T instead of a DocNackMessage", answer)
	}
	if nack.Code != ofdp.NackStorageTransient {
		t.Fatalf("nack code is %d instead of %d", nack.Code, ofdp.NackStorageTransient)
	}
	if store.appends != 1 {
		t.Fatalf("a fatal error was retried %d times", store.appends-1)
	}
}
