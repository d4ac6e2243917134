// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/dtn7/cboring"
	"github.com/ulikunitz/xz"

	"github.com/ofdgate/ofdgate/pkg/dispatch"
)

// DocumentItem is the metadata around one stored document. The Store
// operates on DocumentItems; the container bytes live in an archive file
// next to the database.
type DocumentItem struct {
	Id    string `badgerhold:"key"`
	DocId uint64 `badgerholdIndex:"DocId"`

	Drive     string `badgerholdIndex:"Drive"`
	DocNumber uint32
	Code      uint8
	Version   string
	RegId     string

	Received time.Time

	Filename string
}

// itemId keys a document by the pair identifying it across resends.
func itemId(drive string, docNumber uint32) string {
	return fmt.Sprintf("%s-%d", drive, docNumber)
}

// archivePath returns the archive file path for a document.
func archivePath(id string, archiveDir string) string {
	f := fmt.Sprintf("%x", sha256.Sum256([]byte(id)))
	return path.Join(archiveDir, f)
}

// newDocumentItem creates a DocumentItem for an accepted record.
func newDocumentItem(rec *dispatch.Record, archiveDir string) DocumentItem {
	id := itemId(rec.Doc.DriveNumber(), rec.Doc.DocNumber())

	return DocumentItem{
		Id: id,

		Drive:     rec.Doc.DriveNumber(),
		DocNumber: rec.Doc.DocNumber(),
		Code:      uint8(rec.Doc.Code),
		Version:   rec.Doc.Version,
		RegId:     rec.RegId,

		Received: rec.Received,

		Filename: archivePath(id, archiveDir),
	}
}

// storeArchive writes the record's container together with its receive
// facts as an xz compressed CBOR array to the item's archive file.
func (di DocumentItem) storeArchive(rec *dispatch.Record) error {
	f, err := os.OpenFile(di.Filename, os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	xzW, err := xz.NewWriter(f)
	if err != nil {
		return err
	}
	if err := writeArchive(xzW, rec); err != nil {
		return err
	}
	return xzW.Close()
}

// LoadContainer reads the archived container bytes back from the disk.
func (di DocumentItem) LoadContainer() (container []byte, err error) {
	f, fErr := os.Open(di.Filename)
	if fErr != nil {
		err = fErr
		return
	}
	defer f.Close()

	xzR, xzErr := xz.NewReader(f)
	if xzErr != nil {
		err = xzErr
		return
	}

	container, _, _, err = readArchive(xzR)
	return
}

// deleteArchive removes the archive file from the disk.
func (di DocumentItem) deleteArchive() error {
	return os.Remove(di.Filename)
}

func writeArchive(w io.Writer, rec *dispatch.Record) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}
	if err := cboring.WriteByteString(rec.Doc.Raw, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(rec.RegId, w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(rec.Received.Unix()), w)
}

func readArchive(r io.Reader) (container []byte, regId string, received time.Time, err error) {
	var n uint64
	if n, err = cboring.ReadArrayLength(r); err != nil {
		return
	} else if n != 3 {
		err = fmt.Errorf("archive record has %d elements instead of 3", n)
		return
	}

	if container, err = cboring.ReadByteString(r); err != nil {
		return
	}
	if regId, err = cboring.ReadTextString(r); err != nil {
		return
	}

	var ts uint64
	if ts, err = cboring.ReadUInt(r); err != nil {
		return
	}
	received = time.Unix(int64(ts), 0).UTC()

	return
}
