// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/quiver-network/quiver-go/pkg/config"
	"github.com/quiver-network/quiver-go/pkg/peer"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Peer    peerConf
	Logging config.LogConf
}

// peerConf describes the Peer-configuration block.
type peerConf struct {
	ID              string
	HTTPAddress     string                 `toml:"http-address"`
	QUICAddress     string                 `toml:"quic-address"`
	IncludeLoopback bool                   `toml:"include-loopback"`
	StreamDelay     config.Duration        `toml:"stream-delay"`
	ICEServer       []config.ICEServerConf `toml:"ice-server"`
}

// parseConfig reads the TOML file, applies its logging block and returns the
// Server's configuration.
func parseConfig(filename string) (conf peer.Config, err error) {
	var tc tomlConfig
	if _, err = toml.DecodeFile(filename, &tc); err != nil {
		return
	}

	tc.Logging.Apply()

	if conf.ICEServers, err = config.ICEServers(tc.Peer.ICEServer); err != nil {
		return
	}

	conf.ID = tc.Peer.ID
	if conf.ID == "" {
		conf.ID = uuid.NewString()
	}

	conf.HTTPAddress = tc.Peer.HTTPAddress
	conf.QUICAddress = tc.Peer.QUICAddress
	if conf.HTTPAddress == "" && conf.QUICAddress == "" {
		conf.HTTPAddress = ":8080"
	}

	conf.IncludeLoopback = tc.Peer.IncludeLoopback
	conf.Handler = peer.EchoHandler{Delay: tc.Peer.StreamDelay.Duration}

	return
}
