// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

// State of the logical connection.
//
//	Idle -> Negotiating <-> SignalingHandshake -> Connected -> Closing -> Closed
//
// A lost connection or an exhausted endpoint list returns to Idle until the
// backoff delay elapsed.
type State uint

const (
	Idle State = iota
	Negotiating
	SignalingHandshake
	Connected
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case SignalingHandshake:
		return "signaling-handshake"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
