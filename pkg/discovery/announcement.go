// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery announces the gateway's endpoints through UDP multicast
// packages, so devices on the same network segment can find their operator
// without static configuration.
package discovery

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

const (
	// address4 is the default multicast IPv4 address used for discovery.
	address4 = "224.23.23.23"

	// address6 is the default multicast IPv6 address used for discovery.
	address6 = "ff02::23"

	// port is the default multicast UDP port used for discovery.
	port = 35039
)

// Transport identifies an announced endpoint's transport.
type Transport uint64

const (
	TransportTCP       Transport = 1
	TransportWebsocket Transport = 2
	TransportQUIC      Transport = 3
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportWebsocket:
		return "ws"
	case TransportQUIC:
		return "quic"
	default:
		return "unknown"
	}
}

// CheckValid returns an error for unknown Transports.
func (t Transport) CheckValid() error {
	switch t {
	case TransportTCP, TransportWebsocket, TransportQUIC:
		return nil
	default:
		return fmt.Errorf("unknown transport %d", uint64(t))
	}
}

// Announcement of one gateway endpoint.
type Announcement struct {
	Transport Transport
	OfdInn    string
	Port      uint
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("%v:%d (operator %s)", announcement.Transport, announcement.Port, announcement.OfdInn)
}

// UnmarshalAnnouncements creates a new array of Announcement based on a CBOR byte string.
func UnmarshalAnnouncements(data []byte) (announcements []Announcement, err error) {
	buff := bytes.NewBuffer(data)

	if l, cErr := cboring.ReadArrayLength(buff); cErr != nil {
		err = cErr
		return
	} else {
		announcements = make([]Announcement, l)
	}

	for i := 0; i < len(announcements); i++ {
		if cErr := cboring.Unmarshal(&announcements[i], buff); cErr != nil {
			err = fmt.Errorf("unmarshalling Announcement %d failed: %v", i, cErr)
			return
		}
	}

	return
}

// MarshalAnnouncements into a CBOR byte string.
func MarshalAnnouncements(announcements []Announcement) (data []byte, err error) {
	buff := new(bytes.Buffer)

	if cErr := cboring.WriteArrayLength(uint64(len(announcements)), buff); cErr != nil {
		err = cErr
		return
	}

	for i := range announcements {
		announcement := announcements[i]
		if cErr := cboring.Marshal(&announcement, buff); cErr != nil {
			err = fmt.Errorf("marshalling Announcement %d (%v) failed: %v", i, announcement, cErr)
			return
		}
	}

	data = buff.Bytes()
	return
}

// MarshalCbor creates a CBOR representation for an Announcement.
func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(uint64(announcement.Transport), w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(announcement.OfdInn, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(announcement.Port), w); err != nil {
		return err
	}

	return nil
}

// UnmarshalCbor creates an Announcement from its CBOR representation.
func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 3 {
		return fmt.Errorf("wrong array length: %d instead of 3", l)
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if transport := Transport(n); transport.CheckValid() != nil {
		return transport.CheckValid()
	} else {
		announcement.Transport = transport
	}

	if inn, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		announcement.OfdInn = inn
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		announcement.Port = uint(n)
	}

	return nil
}
