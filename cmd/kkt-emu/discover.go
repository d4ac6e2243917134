// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/ofdgate/ofdgate/pkg/discovery"
)

// runDiscover prints announcements of the given operator's gateways until a
// SIGINT arrives.
func runDiscover(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	manager, err := discovery.NewManager(args[0], nil, discovery.DefaultInterval, true, true)
	if err != nil {
		log.WithError(err).Fatal("Starting discovery errored")
	}
	defer manager.Close()

	manager.NotifyFunc = func(announcement discovery.Announcement, addr string) {
		log.WithFields(log.Fields{
			"gateway": addr,
			"message": announcement,
		}).Info("Discovered a gateway")
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan
}
