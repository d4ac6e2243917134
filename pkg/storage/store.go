// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package storage persists accepted fiscal documents: metadata in a Badger
// database, the container bytes in compressed archive files next to it. A
// Postgres backed variant exists for deployments with a shared database.
package storage

import (
	"context"
	"os"
	"path"
	"sync"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ofdgate/ofdgate/pkg/dispatch"
)

const (
	dirBadger  string = "db"
	dirArchive string = "docs"
)

// Store implements a storage for fiscal documents together with metadata.
type Store struct {
	bh  *badgerhold.Store
	seq *badger.Sequence

	appendMutex sync.Mutex

	badgerDir  string
	archiveDir string
}

// NewStore creates a new Store or opens an existing Store from the given path.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)
	archiveDir := path.Join(dir, dirArchive)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}
	if dirErr := os.MkdirAll(archiveDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	bh, bhErr := badgerhold.Open(opts)
	if bhErr != nil {
		err = bhErr
		return
	}

	seq, seqErr := bh.Badger().GetSequence([]byte("doc-id"), 128)
	if seqErr != nil {
		_ = bh.Close()
		err = seqErr
		return
	}

	s = &Store{
		bh:  bh,
		seq: seq,

		badgerDir:  badgerDir,
		archiveDir: archiveDir,
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		log.WithError(err).Warn("Failed to release the document id sequence")
	}
	return s.bh.Close()
}

// Append stores an accepted document and returns its assigned identifier.
// A document already known under its (fiscal drive number, document number)
// pair is not stored again; the previous identifier is returned instead.
// All returned errors are retryable.
func (s *Store) Append(ctx context.Context, rec *dispatch.Record) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.appendMutex.Lock()
	defer s.appendMutex.Unlock()

	di := newDocumentItem(rec, s.archiveDir)
	logger := log.WithFields(log.Fields{
		"document": di.Id,
		"code":     di.Code,
	})

	if known, err := s.QueryId(di.Drive, di.DocNumber); err == nil {
		logger.WithField("doc_id", known.DocId).Debug("Document is known, ignoring append")
		return known.DocId, nil
	}

	next, err := s.seq.Next()
	if err != nil {
		return 0, dispatch.Transient(err)
	}
	di.DocId = next + 1

	if err := di.storeArchive(rec); err != nil {
		return 0, dispatch.Transient(err)
	}
	if err := s.bh.Insert(di.Id, di); err != nil {
		if delErr := di.deleteArchive(); delErr != nil {
			logger.WithError(delErr).Warn("Failed to delete the orphaned archive file")
		}
		return 0, dispatch.Transient(err)
	}

	logger.WithField("doc_id", di.DocId).Info("Inserted DocumentItem")
	return di.DocId, nil
}

// QueryId fetches the DocumentItem for a (drive, document number) pair.
func (s *Store) QueryId(drive string, docNumber uint32) (di DocumentItem, err error) {
	err = s.bh.Get(itemId(drive, docNumber), &di)
	return
}

// QueryDocId fetches the DocumentItem for an assigned identifier.
func (s *Store) QueryDocId(docId uint64) (di DocumentItem, err error) {
	err = s.bh.FindOne(&di, badgerhold.Where("DocId").Eq(docId))
	return
}

// QueryDrive fetches all DocumentItems of one fiscal drive.
func (s *Store) QueryDrive(drive string) (dis []DocumentItem, err error) {
	err = s.bh.Find(&dis, badgerhold.Where("Drive").Eq(drive))
	return
}

// KnowsDocument checks if such a document is stored.
func (s *Store) KnowsDocument(drive string, docNumber uint32) bool {
	_, err := s.QueryId(drive, docNumber)
	return err != badgerhold.ErrNotFound
}

// Count returns the number of stored documents.
func (s *Store) Count() (uint64, error) {
	n, err := s.bh.Count(&DocumentItem{}, nil)
	return uint64(n), err
}
