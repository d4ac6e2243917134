// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dispatch

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ofdgate/ofdgate/pkg/fiscal"
	"github.com/ofdgate/ofdgate/pkg/ofdp"
	"github.com/ofdgate/ofdgate/pkg/validate"
)

// Dispatcher processes document messages for all sessions. It is stateless
// apart from its collaborators and safe for concurrent use.
type Dispatcher struct {
	store     Store
	validator *validate.Validator

	// OfdInn is the operator's taxpayer number, echoed in receipts.
	OfdInn string

	// MaxRetries bounds storage retries after transient errors.
	MaxRetries int

	// RetryDelay is the pause between storage retries.
	RetryDelay time.Duration
}

// NewDispatcher creates a Dispatcher around a Store and a Validator.
func NewDispatcher(store Store, validator *validate.Validator, ofdInn string) *Dispatcher {
	return &Dispatcher{
		store:     store,
		validator: validator,
		OfdInn:    ofdInn,

		MaxRetries: 2,
		RetryDelay: 250 * time.Millisecond,
	}
}

// Process answers one document message: a DocAckMessage carrying the
// storage identifier and the operator receipt, or a DocNackMessage naming
// the first problem. The answer always echoes the message's sequence
// number.
func (d *Dispatcher) Process(ctx context.Context, regId, version string, dm *ofdp.DocMessage) ofdp.Message {
	logger := log.WithFields(log.Fields{
		"kkt": regId,
		"seq": dm.Seq,
	})

	doc, err := fiscal.ParseContainer(dm.Container, version)
	if err != nil {
		logger.WithError(err).Info("Rejecting malformed document container")
		return ofdp.NewDocNackMessage(dm.Seq, ofdp.NackMalformed, "")
	}

	logger = logger.WithFields(log.Fields{
		"document": doc.Code,
		"number":   doc.DocNumber(),
	})

	if result := d.validator.Validate(doc); !result.Accepted() {
		first := result.First()

		code := ofdp.NackValidation
		if first.Kind == validate.UnsupportedVersion {
			code = ofdp.NackUnsupportedVersion
		}

		logger.WithFields(log.Fields{
			"violation":  first,
			"violations": len(result.Violations),
		}).Info("Rejecting invalid document")
		return ofdp.NewDocNackMessage(dm.Seq, code, first.Path)
	} else if len(result.Unknown) > 0 {
		logger.WithField("tags", result.Unknown).Debug("Document carries undeclared tags")
	}

	rec := &Record{
		RegId:    regId,
		Received: time.Now().UTC(),
		Doc:      doc,
	}

	docId, err := d.append(ctx, rec)
	if err != nil {
		logger.WithError(err).Warn("Document was not stored; asking the device to resend")
		return ofdp.NewDocNackMessage(dm.Seq, ofdp.NackStorageTransient, "")
	}

	// An append finishing after the session's teardown stays committed,
	// but there is no connection left to answer on. The device resends and
	// the store's idempotency hands back the same id.
	if ctx.Err() != nil {
		logger.WithField("doc_id", docId).Info("Stored document after its session closed")
		return nil
	}

	receipt, err := buildReceipt(doc, d.OfdInn, rec.Received)
	if err != nil {
		// The document is stored; a missing receipt must not turn the
		// answer negative. The device fetches the confirmation on its
		// next resend.
		logger.WithError(err).Error("Failed to build the operator receipt")
		receipt = nil
	}

	logger.WithField("doc_id", docId).Info("Stored document")
	return ofdp.NewDocAckMessage(dm.Seq, docId, receipt)
}

// append drives the bounded retry loop around Store.Append.
func (d *Dispatcher) append(ctx context.Context, rec *Record) (docId uint64, err error) {
	for attempt := 0; ; attempt++ {
		docId, err = d.store.Append(ctx, rec)
		if err == nil || !IsTransient(err) || attempt >= d.MaxRetries {
			return
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(d.RetryDelay):
		}
	}
}
