// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schollz/peerdiscovery"
)

// DefaultInterval is the announcement interval used when the configuration
// does not specify one.
const DefaultInterval = 10 * time.Second

// Manager publishes this gateway's Announcements and reports discovered
// peers, e.g., other gateways of the same operator.
type Manager struct {
	// NotifyFunc, if set, is called for every discovered announcement
	// together with the sender's address.
	NotifyFunc func(announcement Announcement, addr string)

	ofdInn string

	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewManager for Announcements will be created and started.
func NewManager(
	ofdInn string, announcements []Announcement, announcementInterval time.Duration,
	ipv4, ipv6 bool) (*Manager, error) {

	var manager = &Manager{
		ofdInn: ofdInn,
	}
	if ipv4 {
		manager.stopChan4 = make(chan struct{})
	}
	if ipv6 {
		manager.stopChan6 = make(chan struct{})
	}

	log.WithFields(log.Fields{
		"interval":      announcementInterval,
		"IPv4":          ipv4,
		"IPv6":          ipv6,
		"announcements": announcements,
	}).Info("Starting discovery Manager")

	msg, err := MarshalAnnouncements(announcements)
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active           bool
		multicastAddress string
		stopChan         chan struct{}
		ipVersion        peerdiscovery.IPVersion
		notify           func(discovered peerdiscovery.Discovered)
	}{
		{ipv4, address4, manager.stopChan4, peerdiscovery.IPv4, manager.notify},
		{ipv6, address6, manager.stopChan6, peerdiscovery.IPv6, manager.notify6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}

		set := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", port),
			MulticastAddress: set.multicastAddress,
			Payload:          msg,
			Delay:            announcementInterval,
			TimeLimit:        -1,
			StopChan:         set.stopChan,
			AllowSelf:        true,
			IPVersion:        set.ipVersion,
			Notify:           set.notify,
		}

		discoverErrChan := make(chan error)
		go func() {
			_, discoverErr := peerdiscovery.Discover(set)
			discoverErrChan <- discoverErr
		}()

		select {
		case discoverErr := <-discoverErrChan:
			if discoverErr != nil {
				return nil, discoverErr
			}

		case <-time.After(time.Second):
			break
		}
	}

	return manager, nil
}

func (manager *Manager) notify6(discovered peerdiscovery.Discovered) {
	discovered.Address = fmt.Sprintf("[%s]", discovered.Address)

	manager.notify(discovered)
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		log.WithError(err).WithField("peer", discovered.Address).Warn("Discovery failed to parse incoming package")
		return
	}

	for _, announcement := range announcements {
		logger := log.WithFields(log.Fields{
			"peer":    discovered.Address,
			"message": announcement,
		})

		// Announcements of foreign operators are none of our business.
		if announcement.OfdInn != manager.ofdInn {
			logger.Debug("Ignoring a foreign operator's announcement")
			continue
		}

		logger.Debug("Discovery received a message")

		if manager.NotifyFunc != nil {
			manager.NotifyFunc(announcement, discovered.Address)
		}
	}
}

// Close this Manager's discovery.
func (manager *Manager) Close() {
	if manager.stopChan4 != nil {
		close(manager.stopChan4)
	}
	if manager.stopChan6 != nil {
		close(manager.stopChan6)
	}
}
