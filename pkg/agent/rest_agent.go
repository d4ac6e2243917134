// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package agent exposes the gateway's stored documents over a small RESTful
// audit API, meant for operators and back-office tooling, not for devices.
package agent

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/ofdgate/ofdgate/pkg/storage"
)

// AuditStore is the slice of the document storage the audit API reads.
type AuditStore interface {
	QueryId(drive string, docNumber uint32) (storage.DocumentItem, error)
	QueryDrive(drive string) ([]storage.DocumentItem, error)
	Count() (uint64, error)
}

// RestAgent is a RESTful audit API over the document storage.
type RestAgent struct {
	router *mux.Router
	store  AuditStore
}

// NewRestAgent creates a new RESTful audit agent.
func NewRestAgent(router *mux.Router, store AuditStore) (ra *RestAgent) {
	ra = &RestAgent{
		router: router,
		store:  store,
	}

	ra.router.HandleFunc("/status", ra.handleStatus).Methods(http.MethodGet)
	ra.router.HandleFunc("/documents/{drive}", ra.handleDrive).Methods(http.MethodGet)
	ra.router.HandleFunc("/documents/{drive}/{number}", ra.handleDocument).Methods(http.MethodGet)

	return ra
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint, e.g., /audit.
func (ra *RestAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ra.router.ServeHTTP(w, r)
}

// RestStatusResponse answers /status requests.
type RestStatusResponse struct {
	Documents uint64 `json:"documents"`
	Error     string `json:"error,omitempty"`
}

func (ra *RestAgent) handleStatus(w http.ResponseWriter, r *http.Request) {
	var response RestStatusResponse

	if n, err := ra.store.Count(); err != nil {
		response.Error = err.Error()
	} else {
		response.Documents = n
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.WithError(err).Warn("Failed to write REST status response")
	}
}

func (ra *RestAgent) handleDrive(w http.ResponseWriter, r *http.Request) {
	drive := mux.Vars(r)["drive"]

	dis, err := ra.store.QueryDrive(drive)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if dis == nil {
		dis = []storage.DocumentItem{}
	}

	log.WithFields(log.Fields{
		"drive":     drive,
		"documents": len(dis),
	}).Debug("Processing REST drive query")

	if err := json.NewEncoder(w).Encode(dis); err != nil {
		log.WithError(err).Warn("Failed to write REST drive response")
	}
}

func (ra *RestAgent) handleDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	number, err := strconv.ParseUint(vars["number"], 10, 32)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	di, err := ra.store.QueryId(vars["drive"], uint32(number))
	if err != nil {
		http.Error(w, "no such document", http.StatusNotFound)
		return
	}

	if err := json.NewEncoder(w).Encode(di); err != nil {
		log.WithError(err).Warn("Failed to write REST document response")
	}
}
