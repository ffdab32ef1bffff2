// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind selects one of the transport variants.
type Kind string

const (
	// QUIC is the bidirectional-stream transport, one stream per request.
	QUIC Kind = "quic"

	// PeerChannel is a WebRTC data channel, negotiated by signaling.
	PeerChannel Kind = "webrtc"

	// Socket is a single persistent WebSocket connection.
	Socket Kind = "websocket"
)

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case QUIC, PeerChannel, Socket:
		return k, nil
	case "webtransport":
		return QUIC, nil
	case "ws", "wss":
		return Socket, nil
	default:
		return "", fmt.Errorf("unknown transport kind %q", s)
	}
}

// Endpoint is a candidate remote peer. Lower Priority values are tried first.
type Endpoint struct {
	Kind     Kind
	Address  string
	Priority int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.Address)
}

// SortEndpoints returns a copy of endpoints ordered by priority. Endpoints
// with equal priority keep their relative order.
func SortEndpoints(endpoints []Endpoint) []Endpoint {
	sorted := make([]Endpoint, len(endpoints))
	copy(sorted, endpoints)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}

// ErrUnavailable signals an unreachable endpoint or a transport the host
// cannot provide.
var ErrUnavailable = errors.New("transport unavailable")

// ErrClosed is returned by Send after the Transport was closed.
var ErrClosed = errors.New("transport closed")

// Transport is the uniform capability every variant provides.
//
// A Transport is opened exactly once. Afterwards, each received frame is
// reported as a MessageReceived Status on Channel, in the order the
// underlying connection delivered it. When the connection ends, exactly one
// TransportClosed Status is reported and the channel is closed.
type Transport interface {
	// Open establishes the connection. It returns when the transport is
	// ready to Send or when ctx is done.
	Open(ctx context.Context) error

	// Send transmits one encoded envelope.
	Send(data []byte) error

	// Channel delivers incoming frames and the final closed notification.
	Channel() chan Status

	// Close tears the Transport down. A TransportClosed Status with a nil
	// reason follows.
	Close() error

	// Endpoint this Transport was created for.
	Endpoint() Endpoint
}

// Dialer creates a not yet opened Transport for an Endpoint.
type Dialer func(Endpoint) (Transport, error)
