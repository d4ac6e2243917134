// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"os/signal"

	"github.com/pkg/profile"
	log "github.com/sirupsen/logrus"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	d, err := parseGateway(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse configuration")
	}

	if d.profiling {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	waitSigint()
	log.Info("Shutting down..")

	d.Close()
}
