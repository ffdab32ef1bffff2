// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport describes the capability set shared by all ways of
// reaching an inference peer.
//
// Three variants exist as subpackages: quicstream opens one QUIC stream per
// request, peerchan uses a WebRTC data channel negotiated through the
// signaling package, and socket keeps a single WebSocket connection. All of
// them report received frames and their own end through a channel of Status
// values, just like a Reporter does, so callers above the negotiator never
// branch on the active variant.
package transport
