// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/quiver-network/quiver-go/pkg/transport"
	"github.com/quiver-network/quiver-go/pkg/transport/peerchan"
	"github.com/quiver-network/quiver-go/pkg/transport/quicstream"
	"github.com/quiver-network/quiver-go/pkg/transport/socket"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultAttemptTimeout = time.Second
	DefaultBaseBackoff    = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// Config of a Client.
type Config struct {
	// Endpoints are tried by ascending Priority.
	Endpoints []transport.Endpoint

	// RequestTimeout applies to each Request, Ping and NetworkStats call.
	RequestTimeout time.Duration

	// AttemptTimeout bounds opening one endpoint.
	AttemptTimeout time.Duration

	// BaseBackoff and MaxBackoff shape the delay between reconnects.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// MaxReconnectAttempts ends the client after so many consecutive failed
	// reconnects. Zero retries forever.
	MaxReconnectAttempts int

	// Clock drives all timers; wall time if nil.
	Clock clock.Clock

	// Dialers per transport kind. DefaultDialers if nil.
	Dialers map[transport.Kind]transport.Dialer
}

// DefaultDialers creates every transport kind with its default settings.
func DefaultDialers() map[transport.Kind]transport.Dialer {
	return map[transport.Kind]transport.Dialer{
		transport.QUIC:        quicstream.Dialer(quicstream.DialerTLSConfig(false)),
		transport.PeerChannel: peerchan.Dialer(peerchan.Config{}),
		transport.Socket:      socket.Dialer(nil),
	}
}

func (config Config) withDefaults() Config {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = DefaultBaseBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultMaxBackoff
	}
	if config.MaxBackoff < config.BaseBackoff {
		config.MaxBackoff = config.BaseBackoff
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Dialers == nil {
		config.Dialers = DefaultDialers()
	}
	return config
}

func (config Config) validate() error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}
	if config.MaxReconnectAttempts < 0 {
		return fmt.Errorf("negative MaxReconnectAttempts %d", config.MaxReconnectAttempts)
	}
	return nil
}
