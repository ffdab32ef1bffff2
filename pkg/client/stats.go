// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"time"

	"github.com/quiver-network/quiver-go/pkg/transport"
)

// Stats is a snapshot of the Client's local health.
type Stats struct {
	State            State
	ActiveEndpoint   *transport.Endpoint
	Generation       string
	ConnectedSince   time.Time
	ReconnectAttempt int

	Pending int
	Streams int

	MessagesSent     uint64
	MessagesReceived uint64
	Dropped          uint64
	ProtocolErrors   uint64
	Reconnects       uint64
}

type counters struct {
	sent           uint64
	received       uint64
	dropped        uint64
	protocolErrors uint64
	connects       uint64
}

// Stats returns a snapshot of the Client's local health.
func (c *Client) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stats := Stats{
		State:            c.state,
		Generation:       c.generation,
		ConnectedSince:   c.connectedSince,
		ReconnectAttempt: c.reconnectAttempt,
		Pending:          len(c.pending),
		Streams:          len(c.streams),
		MessagesSent:     c.counters.sent,
		MessagesReceived: c.counters.received,
		Dropped:          c.counters.dropped,
		ProtocolErrors:   c.counters.protocolErrors,
	}

	if c.counters.connects > 1 {
		stats.Reconnects = c.counters.connects - 1
	}
	if c.active != nil {
		endpoint := c.active.Endpoint()
		stats.ActiveEndpoint = &endpoint
	}
	return stats
}
