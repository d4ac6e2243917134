// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/ofdgate/ofdgate/pkg/dispatch"
)

// PostgresStore persists documents in a Postgres database, for deployments
// where multiple gateways share one storage. The container bytes go into a
// bytea column; the idempotency over (drive, document number) is enforced
// by a unique constraint.
type PostgresStore struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         BIGSERIAL PRIMARY KEY,
	drive      TEXT        NOT NULL,
	doc_number BIGINT      NOT NULL,
	code       SMALLINT    NOT NULL,
	version    TEXT        NOT NULL,
	reg_id     TEXT        NOT NULL,
	received   TIMESTAMPTZ NOT NULL,
	container  BYTEA       NOT NULL,
	UNIQUE (drive, doc_number)
)`

// NewPostgresStore connects to a Postgres database and prepares its schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

// Close the PostgresStore. It must not be used afterwards.
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

// Append stores an accepted document, idempotent over the (fiscal drive
// number, document number) pair. All returned errors are retryable; the
// database may come back.
func (ps *PostgresStore) Append(ctx context.Context, rec *dispatch.Record) (uint64, error) {
	// The no-op update turns the conflicting insert into a row the
	// RETURNING clause can see.
	const query = `
		INSERT INTO documents (drive, doc_number, code, version, reg_id, received, container)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (drive, doc_number) DO UPDATE SET drive = EXCLUDED.drive
		RETURNING id`

	var docId uint64
	err := ps.db.QueryRowContext(ctx, query,
		rec.Doc.DriveNumber(), rec.Doc.DocNumber(), uint8(rec.Doc.Code),
		rec.Doc.Version, rec.RegId, rec.Received, rec.Doc.Raw).Scan(&docId)
	if err != nil {
		return 0, dispatch.Transient(err)
	}
	return docId, nil
}

// KnowsDocument checks if such a document is stored.
func (ps *PostgresStore) KnowsDocument(ctx context.Context, drive string, docNumber uint32) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM documents WHERE drive = $1 AND doc_number = $2)`

	var known bool
	err := ps.db.QueryRowContext(ctx, query, drive, docNumber).Scan(&known)
	return known, err
}

// QueryReceived fetches the receive timestamp of a stored document.
func (ps *PostgresStore) QueryReceived(ctx context.Context, drive string, docNumber uint32) (time.Time, error) {
	const query = `SELECT received FROM documents WHERE drive = $1 AND doc_number = $2`

	var received time.Time
	err := ps.db.QueryRowContext(ctx, query, drive, docNumber).Scan(&received)
	return received, err
}
