// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config holds the TOML configuration blocks shared by the
// command line programs.
package config

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"
)

// Duration is a time.Duration written as a string, e.g., "1500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LogConf describes the Logging-configuration block.
type LogConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// Apply this logging configuration to logrus.
func (conf LogConf) Apply() {
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

// ICEServerConf describes a STUN or TURN server.
type ICEServerConf struct {
	URLs       []string
	Username   string
	Credential string
}

// ICEServers converts the configured servers for pion.
func ICEServers(confs []ICEServerConf) ([]webrtc.ICEServer, error) {
	servers := make([]webrtc.ICEServer, 0, len(confs))
	for i, conf := range confs {
		if len(conf.URLs) == 0 {
			return nil, fmt.Errorf("ice-server %d has no urls", i)
		}

		servers = append(servers, webrtc.ICEServer{
			URLs:       conf.URLs,
			Username:   conf.Username,
			Credential: conf.Credential,
		})
	}
	return servers, nil
}
