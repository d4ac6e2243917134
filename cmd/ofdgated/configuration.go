// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/ofdgate/ofdgate/pkg/agent"
	"github.com/ofdgate/ofdgate/pkg/cipher"
	"github.com/ofdgate/ofdgate/pkg/discovery"
	"github.com/ofdgate/ofdgate/pkg/dispatch"
	"github.com/ofdgate/ofdgate/pkg/gateway"
	"github.com/ofdgate/ofdgate/pkg/schema"
	"github.com/ofdgate/ofdgate/pkg/session"
	"github.com/ofdgate/ofdgate/pkg/storage"
	"github.com/ofdgate/ofdgate/pkg/validate"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core      coreConf
	Logging   logConf
	Protocol  protocolConf
	Storage   storageConf
	Discovery discoveryConf
	Agent     agentConf
	Listen    []listenConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	OfdInn    string `toml:"ofd-inn"`
	Store     string
	Profiling bool
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// protocolConf describes the Protocol-configuration block.
type protocolConf struct {
	Ciphers        []string
	FaultThreshold int    `toml:"fault-threshold"`
	IdleTimeout    uint   `toml:"idle-timeout"`
	MaxFrameLength int    `toml:"max-frame-length"`
	SchemaMode     string `toml:"schema-mode"`
	SchemaDir      string `toml:"schema-dir"`
	MinDate        string `toml:"min-date"`
	FutureHours    uint   `toml:"future-hours"`
}

// storageConf describes the Storage-configuration block.
type storageConf struct {
	Postgres string
	Retries  int
	Backoff  uint
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
}

// agentConf describes the audit REST API block.
type agentConf struct {
	Listen string
}

// listenConf describes one device-facing endpoint block.
type listenConf struct {
	Protocol string
	Endpoint string
}

// daemon bundles everything a running gateway consists of.
type daemon struct {
	servers   []interface{ Close() }
	store     *closableStore
	discovery *discovery.Manager
	audit     *http.Server
	profiling bool
}

// closableStore pairs the dispatch.Store with its Close.
type closableStore struct {
	dispatch.Store
	closeFunc func() error
}

func (cs *closableStore) Close() error {
	return cs.closeFunc()
}

func (d *daemon) Close() {
	for _, serv := range d.servers {
		serv.Close()
	}
	if d.audit != nil {
		_ = d.audit.Close()
	}
	if d.discovery != nil {
		d.discovery.Close()
	}
	if err := d.store.Close(); err != nil {
		log.WithError(err).Warn("Failed to close the store")
	}
}

func parseLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

func parseCiphers(names []string) (suites uint8, err error) {
	if len(names) == 0 {
		return uint8(cipher.SuiteAESGCM | cipher.SuiteChaCha20), nil
	}

	for _, name := range names {
		switch name {
		case "none":
			suites |= uint8(cipher.SuiteNone)
		case "aes-gcm":
			suites |= uint8(cipher.SuiteAESGCM)
		case "chacha20":
			suites |= uint8(cipher.SuiteChaCha20)
		default:
			err = fmt.Errorf("unknown protocol.ciphers entry %q", name)
			return
		}
	}
	return
}

func parseSession(conf protocolConf) (cfg session.Config, err error) {
	cfg = session.DefaultConfig()

	if cfg.AllowedSuites, err = parseCiphers(conf.Ciphers); err != nil {
		return
	}
	if conf.FaultThreshold > 0 {
		cfg.FaultThreshold = conf.FaultThreshold
	}
	if conf.IdleTimeout > 0 {
		cfg.IdleTimeout = time.Duration(conf.IdleTimeout) * time.Second
	}
	return
}

func parseValidator(conf protocolConf) (*validate.Validator, error) {
	var strict bool
	switch conf.SchemaMode {
	case "", "strict":
		strict = true
	case "lenient":
		strict = false
	default:
		return nil, fmt.Errorf("unknown protocol.schema-mode %q", conf.SchemaMode)
	}

	table, err := schema.Builtin(strict)
	if err != nil {
		return nil, err
	}

	if conf.SchemaDir != "" {
		if table, err = schema.LoadDir(table, conf.SchemaDir); err != nil {
			return nil, err
		}
	}

	v := validate.NewValidator(table)
	v.Lenient = !strict

	if conf.MinDate != "" {
		minDate, dateErr := time.Parse("2006-01-02", conf.MinDate)
		if dateErr != nil {
			return nil, fmt.Errorf("protocol.min-date: %v", dateErr)
		}
		v.MinDate = minDate
	}
	if conf.FutureHours > 0 {
		v.FutureWindow = time.Duration(conf.FutureHours) * time.Hour
	}

	return v, nil
}

func parseStore(core coreConf, conf storageConf) (*closableStore, error) {
	if conf.Postgres != "" {
		ps, err := storage.NewPostgresStore(conf.Postgres)
		if err != nil {
			return nil, err
		}
		return &closableStore{Store: ps, closeFunc: ps.Close}, nil
	}

	if core.Store == "" {
		return nil, fmt.Errorf("core.store is empty")
	}

	s, err := storage.NewStore(core.Store)
	if err != nil {
		return nil, err
	}
	return &closableStore{Store: s, closeFunc: s.Close}, nil
}

func parseListenPort(endpoint string) (port int, err error) {
	var portStr string
	_, portStr, err = net.SplitHostPort(endpoint)
	if err != nil {
		return
	}
	port, err = strconv.Atoi(portStr)
	return
}

// parseListen inspects a "listen" block and returns a started server
// together with its discovery announcement.
func parseListen(conv listenConf, sessionCfg session.Config, maxFrameLen int,
	processor session.Processor, ofdInn string) (interface{ Close() }, discovery.Announcement, error) {

	port, err := parseListenPort(conv.Endpoint)
	if err != nil {
		return nil, discovery.Announcement{}, err
	}

	switch conv.Protocol {
	case "tcp":
		serv := gateway.NewServer(conv.Endpoint, sessionCfg, processor)
		serv.SetMaxFrameLen(maxFrameLen)
		if err, _ := serv.Start(); err != nil {
			return nil, discovery.Announcement{}, err
		}

		msg := discovery.Announcement{Transport: discovery.TransportTCP, OfdInn: ofdInn, Port: uint(port)}
		return serv, msg, nil

	case "ws":
		serv, err := gateway.NewWebsocketServer(conv.Endpoint, sessionCfg, processor, maxFrameLen)
		if err != nil {
			return nil, discovery.Announcement{}, err
		}

		msg := discovery.Announcement{Transport: discovery.TransportWebsocket, OfdInn: ofdInn, Port: uint(port)}
		return serv, msg, nil

	case "quic":
		serv := gateway.NewQUICServer(conv.Endpoint, sessionCfg, processor)
		serv.SetMaxFrameLen(maxFrameLen)
		if err, _ := serv.Start(); err != nil {
			return nil, discovery.Announcement{}, err
		}

		msg := discovery.Announcement{Transport: discovery.TransportQUIC, OfdInn: ofdInn, Port: uint(port)}
		return serv, msg, nil

	default:
		return nil, discovery.Announcement{}, fmt.Errorf("unknown listen.protocol %q", conv.Protocol)
	}
}

// parseGateway assembles the daemon based on the given TOML configuration.
func parseGateway(filename string) (d *daemon, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	parseLogging(conf.Logging)

	if conf.Core.OfdInn == "" {
		err = fmt.Errorf("core.ofd-inn is empty")
		return
	}

	store, storeErr := parseStore(conf.Core, conf.Storage)
	if storeErr != nil {
		err = storeErr
		return
	}

	validator, valErr := parseValidator(conf.Protocol)
	if valErr != nil {
		err = valErr
		_ = store.Close()
		return
	}

	sessionCfg, sessErr := parseSession(conf.Protocol)
	if sessErr != nil {
		err = sessErr
		_ = store.Close()
		return
	}

	d = &daemon{
		store:     store,
		profiling: conf.Core.Profiling,
	}

	processor := dispatch.NewDispatcher(store, validator, conf.Core.OfdInn)
	if conf.Storage.Retries > 0 {
		processor.MaxRetries = conf.Storage.Retries
	}
	if conf.Storage.Backoff > 0 {
		processor.RetryDelay = time.Duration(conf.Storage.Backoff) * time.Millisecond
	}

	var announcements []discovery.Announcement
	for _, conv := range conf.Listen {
		serv, msg, listenErr := parseListen(conv, sessionCfg, conf.Protocol.MaxFrameLength, processor, conf.Core.OfdInn)
		if listenErr != nil {
			err = listenErr
			d.Close()
			d = nil
			return
		}

		d.servers = append(d.servers, serv)
		announcements = append(announcements, msg)
	}

	if conf.Agent.Listen != "" {
		auditStore, ok := store.Store.(agent.AuditStore)
		if !ok {
			log.Warn("The configured store cannot serve the audit API; skipping it")
		} else {
			router := mux.NewRouter()
			agent.NewRestAgent(router, auditStore)

			d.audit = &http.Server{Addr: conf.Agent.Listen, Handler: router}
			go func(httpServer *http.Server) {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.WithError(err).Error("Audit API failed")
				}
			}(d.audit)
		}
	}

	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		interval := time.Duration(conf.Discovery.Interval) * time.Second
		if conf.Discovery.Interval == 0 {
			interval = discovery.DefaultInterval
		}

		d.discovery, err = discovery.NewManager(
			conf.Core.OfdInn, announcements, interval,
			conf.Discovery.IPv4, conf.Discovery.IPv6)
		if err != nil {
			d.Close()
			d = nil
			return
		}
	}

	return
}
