// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// kkt-emu emulates a cash register talking to an ofdgate gateway. It is a
// development aid: it opens a session, pushes a small shift's worth of
// documents and reports every answer.
package main

import (
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/ofdgate/ofdgate/pkg/cipher"
	"github.com/ofdgate/ofdgate/pkg/ofdp"
)

// printUsage of kkt-emu and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s session|discover:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s session tcp|quic address fiscal-drive reg-id [receipts]\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Connects to a gateway, performs the handshake and transmits a shift:\n")
	_, _ = fmt.Fprintf(os.Stderr, "  one shift opening, the given amount of receipts (default 3) and the\n")
	_, _ = fmt.Fprintf(os.Stderr, "  shift closing. Every acknowledgment is printed.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s discover ofd-inn\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Listens for multicast announcements of the given operator's gateways\n")
	_, _ = fmt.Fprintf(os.Stderr, "  and prints them until interrupted.\n\n")

	os.Exit(1)
}

func runSession(args []string) {
	if len(args) < 4 || len(args) > 5 {
		printUsage()
	}

	var (
		network = args[0]
		address = args[1]
		drive   = args[2]
		regId   = args[3]

		receipts = 3
	)

	if len(args) == 5 {
		var err error
		if receipts, err = strconv.Atoi(args[4]); err != nil {
			log.WithError(err).Fatal("Invalid receipt amount")
		}
	}

	client, closer, err := dial(network, address, drive, regId)
	if err != nil {
		log.WithError(err).Fatal("Connecting to the gateway errored")
	}
	defer closer()

	ack, err := client.Handshake(uint8(cipher.SuiteAESGCM | cipher.SuiteChaCha20))
	if err != nil {
		log.WithError(err).Fatal("Handshake errored")
	}
	log.WithField("handshake", ack).Info("Session established")

	shift := newShift(drive, regId)

	sendDocument(client, "openShift", shift.open())
	for i := 0; i < receipts; i++ {
		sendDocument(client, "receipt", shift.receipt())
	}
	sendDocument(client, "closeShift", shift.close())

	if err := client.Terminate(ofdp.TerminationShiftClosed); err != nil {
		log.WithError(err).Fatal("Session termination errored")
	}
	log.Info("Session terminated")
}

// sendDocument transmits one container and logs the gateway's verdict.
func sendDocument(client docSender, name string, container []byte) {
	answer, err := client.SendDocument(container)
	if err != nil {
		log.WithError(err).WithField("document", name).Fatal("Sending errored")
	}

	switch answer := answer.(type) {
	case *ofdp.DocAckMessage:
		log.WithFields(log.Fields{
			"document": name,
			"seq":      answer.Seq,
			"id":       answer.DocId,
		}).Info("Document confirmed")

	case *ofdp.DocNackMessage:
		log.WithFields(log.Fields{
			"document": name,
			"seq":      answer.Seq,
			"code":     answer.Code,
			"path":     answer.Path,
		}).Warn("Document rejected")

	default:
		log.WithField("message", answer).Warn("Unexpected answer")
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
	}

	switch os.Args[1] {
	case "session":
		runSession(os.Args[2:])

	case "discover":
		runDiscover(os.Args[2:])

	default:
		printUsage()
	}
}
