// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package dispatch turns received document messages into acknowledgements:
// it parses the container, validates it against the schema table, hands the
// accepted document to storage and builds the answer message.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ofdgate/ofdgate/pkg/fiscal"
)

// Record is one accepted document on its way into storage, together with
// the session facts storage keys on.
type Record struct {
	// RegId is the sending KKT's registration number.
	RegId string

	// Received is the gateway's receive timestamp.
	Received time.Time

	// Doc is the parsed document; Doc.Raw holds the container bytes.
	Doc *fiscal.Document
}

// Store persists accepted documents. Append is idempotent over the
// (fiscal drive number, document number) pair: appending a stored document
// again returns the already assigned identifier.
type Store interface {
	Append(ctx context.Context, rec *Record) (uint64, error)
}

// TransientError wraps a storage failure the device may retry: the document
// was rejected for now, not forever.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient storage error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps an error as retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient checks if an error is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
