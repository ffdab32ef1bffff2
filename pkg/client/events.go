// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"fmt"
	"time"

	"github.com/quiver-network/quiver-go/pkg/transport"
)

// EventType of an Event.
type EventType uint

const (
	_ EventType = iota

	// StateChanged reports a new State.
	StateChanged

	// AttemptStarted reports an endpoint being opened.
	AttemptStarted

	// AttemptFailed reports an endpoint which could not be opened; Err
	// tells why.
	AttemptFailed

	// EndpointConnected reports an open endpoint.
	EndpointConnected

	// ConnectionLost reports the unexpected end of the active transport.
	ConnectionLost

	// ReconnectScheduled reports a backoff delay before the next attempt.
	ReconnectScheduled

	// AllEndpointsFailed reports an exhausted endpoint list.
	AllEndpointsFailed

	// ProtocolError reports a dropped malformed message.
	ProtocolError

	// ClientClosed is the last Event.
	ClientClosed
)

func (et EventType) String() string {
	switch et {
	case StateChanged:
		return "state changed"
	case AttemptStarted:
		return "attempt started"
	case AttemptFailed:
		return "attempt failed"
	case EndpointConnected:
		return "connected"
	case ConnectionLost:
		return "connection lost"
	case ReconnectScheduled:
		return "reconnect scheduled"
	case AllEndpointsFailed:
		return "all endpoints failed"
	case ProtocolError:
		return "protocol error"
	case ClientClosed:
		return "closed"
	default:
		return "unknown event"
	}
}

// Event is emitted on the Client's Events channel for a UI or CLI layer.
type Event struct {
	Type     EventType
	Time     time.Time
	State    State
	Endpoint transport.Endpoint
	Attempt  int
	Delay    time.Duration
	Err      error
}

func (e Event) String() string {
	switch e.Type {
	case StateChanged:
		return fmt.Sprintf("Event(%v: %v)", e.Type, e.State)
	case AttemptStarted, AttemptFailed, EndpointConnected:
		return fmt.Sprintf("Event(%v: %v)", e.Type, e.Endpoint)
	case ReconnectScheduled:
		return fmt.Sprintf("Event(%v: attempt %d in %v)", e.Type, e.Attempt, e.Delay)
	default:
		return fmt.Sprintf("Event(%v)", e.Type)
	}
}

const eventBufferSize = 64

// emit an Event without blocking. Events are dropped if nobody reads.
func (c *Client) emit(e Event) {
	e.Time = c.clock.Now()

	c.eventsMutex.Lock()
	defer c.eventsMutex.Unlock()

	if c.eventsClosed {
		return
	}

	select {
	case c.events <- e:
	default:
		c.log().WithField("event", e).Debug("Dropping event, channel is full")
	}
}

func (c *Client) closeEvents() {
	c.eventsMutex.Lock()
	defer c.eventsMutex.Unlock()

	if !c.eventsClosed {
		c.eventsClosed = true
		close(c.events)
	}
}
