// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/quiver-network/quiver-go/pkg/client"
	"github.com/quiver-network/quiver-go/pkg/config"
	"github.com/quiver-network/quiver-go/pkg/transport"
	"github.com/quiver-network/quiver-go/pkg/transport/peerchan"
	"github.com/quiver-network/quiver-go/pkg/transport/quicstream"
	"github.com/quiver-network/quiver-go/pkg/transport/socket"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Client    clientConf
	Logging   config.LogConf
	Endpoint  []endpointConf
	Signaling signalingConf
	TLS       tlsConf `toml:"tls"`
}

// clientConf describes the Client-configuration block.
type clientConf struct {
	RequestTimeout       config.Duration `toml:"request-timeout"`
	AttemptTimeout       config.Duration `toml:"attempt-timeout"`
	BaseBackoff          config.Duration `toml:"base-backoff"`
	MaxBackoff           config.Duration `toml:"max-backoff"`
	MaxReconnectAttempts int             `toml:"max-reconnect-attempts"`
}

// endpointConf describes one candidate peer.
type endpointConf struct {
	Kind     string
	Address  string
	Priority int
}

// signalingConf describes how peer channels are negotiated.
type signalingConf struct {
	URLs            []string
	AnswerTimeout   config.Duration        `toml:"answer-timeout"`
	IncludeLoopback bool                   `toml:"include-loopback"`
	ICEServer       []config.ICEServerConf `toml:"ice-server"`
}

// tlsConf describes the QUIC transport's TLS settings.
type tlsConf struct {
	Insecure bool
}

func parseEndpoints(confs []endpointConf) ([]transport.Endpoint, error) {
	if len(confs) == 0 {
		return nil, fmt.Errorf("no endpoint configured")
	}

	endpoints := make([]transport.Endpoint, 0, len(confs))
	for i, conf := range confs {
		kind, err := transport.ParseKind(conf.Kind)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
		if conf.Address == "" {
			return nil, fmt.Errorf("endpoint %d: address is empty", i)
		}

		endpoints = append(endpoints, transport.Endpoint{
			Kind:     kind,
			Address:  conf.Address,
			Priority: conf.Priority,
		})
	}
	return endpoints, nil
}

func parseDialers(conf tomlConfig) (map[transport.Kind]transport.Dialer, error) {
	iceServers, err := config.ICEServers(conf.Signaling.ICEServer)
	if err != nil {
		return nil, err
	}

	return map[transport.Kind]transport.Dialer{
		transport.QUIC: quicstream.Dialer(quicstream.DialerTLSConfig(conf.TLS.Insecure)),
		transport.PeerChannel: peerchan.Dialer(peerchan.Config{
			SignalingURLs:   conf.Signaling.URLs,
			ICEServers:      iceServers,
			IncludeLoopback: conf.Signaling.IncludeLoopback,
			AnswerTimeout:   conf.Signaling.AnswerTimeout.Duration,
		}),
		transport.Socket: socket.Dialer(nil),
	}, nil
}

// parseConfig reads the TOML file, applies its logging block and returns the
// Client's configuration.
func parseConfig(filename string) (conf client.Config, err error) {
	var tc tomlConfig
	if _, err = toml.DecodeFile(filename, &tc); err != nil {
		return
	}

	tc.Logging.Apply()

	if conf.Endpoints, err = parseEndpoints(tc.Endpoint); err != nil {
		return
	}
	if conf.Dialers, err = parseDialers(tc); err != nil {
		return
	}

	conf.RequestTimeout = tc.Client.RequestTimeout.Duration
	conf.AttemptTimeout = tc.Client.AttemptTimeout.Duration
	conf.BaseBackoff = tc.Client.BaseBackoff.Duration
	conf.MaxBackoff = tc.Client.MaxBackoff.Duration
	conf.MaxReconnectAttempts = tc.Client.MaxReconnectAttempts

	return
}

// parseEndpointFile only reads the endpoint list, for reloading.
func parseEndpointFile(filename string) ([]transport.Endpoint, error) {
	var tc tomlConfig
	if _, err := toml.DecodeFile(filename, &tc); err != nil {
		return nil, err
	}
	return parseEndpoints(tc.Endpoint)
}
