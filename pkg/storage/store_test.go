// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/ofdgate/ofdgate/pkg/dispatch"
	"github.com/ofdgate/ofdgate/pkg/fiscal"
)

func setupStoreDir(t *testing.T) string {
	filePath, err := ioutil.TempFile("", "store")

	if err != nil {
		t.Fatal(err)
	} else {
		os.Remove(filePath.Name())
	}

	return filePath.Name()
}

func testRecord(t *testing.T, docNumber uint32) *dispatch.Record {
	t.Helper()

	header := fiscal.ContainerHeader{DocType: fiscal.DocOpenShift, DocNumber: docNumber}
	copy(header.DriveNumber[:], "87100042")

	container, err := fiscal.PackContainer(header, []fiscal.Field{
		{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(time.Now().UTC().Truncate(time.Second))},
		{Tag: fiscal.TagShiftNumber, Value: fiscal.U32Value(1)},
		{Tag: fiscal.TagUserInn, Value: fiscal.StringValue("7704358518")},
		{Tag: fiscal.TagKktRegId, Value: fiscal.StringValue("0000000001053311")},
		{Tag: fiscal.TagFiscalDocumentNumber, Value: fiscal.U32Value(docNumber)},
	})
	if err != nil {
		t.Fatal(err)
	}

	doc, err := fiscal.ParseContainer(container, "1.05")
	if err != nil {
		t.Fatal(err)
	}

	return &dispatch.Record{
		RegId:    "0000000001053311",
		Received: time.Now().UTC().Truncate(time.Second),
		Doc:      doc,
	}
}

func TestStore(t *testing.T) {
	dir := setupStoreDir(t)
	defer os.RemoveAll(dir)

	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	rec := testRecord(t, 42)

	docId, err := store.Append(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if docId == 0 {
		t.Fatal("assigned document id is zero")
	}

	di, err := store.QueryId(rec.Doc.DriveNumber(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if di.DocId != docId {
		t.Fatalf("DocumentItem carries id %d instead of %d", di.DocId, docId)
	}
	if di.Code != uint8(fiscal.DocOpenShift) {
		t.Fatalf("DocumentItem carries code %d", di.Code)
	}
	if di.RegId != rec.RegId {
		t.Fatalf("DocumentItem carries KKT %q", di.RegId)
	}

	container, err := di.LoadContainer()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(container, rec.Doc.Raw) {
		t.Fatal("container changed after loading")
	}

	if !store.KnowsDocument(rec.Doc.DriveNumber(), 42) {
		t.Fatal("stored document is unknown")
	}
	if store.KnowsDocument(rec.Doc.DriveNumber(), 43) {
		t.Fatal("unstored document is known")
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestStoreIdempotentAppend(t *testing.T) {
	dir := setupStoreDir(t)
	defer os.RemoveAll(dir)

	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	rec := testRecord(t, 42)

	first, err := store.Append(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Append(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("a resent document got id %d instead of %d", second, first)
	}

	if n, err := store.Count(); err != nil {
		t.Fatal(err)
	} else if n != 1 {
		t.Fatalf("store counts %d documents instead of 1", n)
	}
}

func TestStoreQueries(t *testing.T) {
	dir := setupStoreDir(t)
	defer os.RemoveAll(dir)

	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	var ids []uint64
	for _, docNumber := range []uint32{1, 2, 3} {
		docId, err := store.Append(context.Background(), testRecord(t, docNumber))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, docId)
	}

	dis, err := store.QueryDrive("87100042")
	if err != nil {
		t.Fatal(err)
	}
	if len(dis) != 3 {
		t.Fatalf("drive query found %d documents instead of 3", len(dis))
	}

	di, err := store.QueryDocId(ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if di.DocNumber != 2 {
		t.Fatalf("id query found document %d instead of 2", di.DocNumber)
	}
}
