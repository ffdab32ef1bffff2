// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package quicstream implements the stream transport on top of QUIC.


Why?
QUIC brings multiplexing for free. Instead of interleaving every request on
a single ordered channel, each request gets its own bidirectional stream and
its answers, possibly many stream chunks, travel back on the same stream.
Head-of-line blocking between requests is gone and per-request ordering is
still guaranteed by the stream.


Protocol
The dialer opens a QUIC connection using the ALPN token "quiver-stream".
For every envelope it sends, it opens a new bidirectional stream, writes one
frame and closes its sending direction. The peer answers with any number of
frames on the same stream and closes it afterwards. The peer may also open
streams on its own to push envelopes.

A frame is a CBOR byte string header, carrying the length, followed by the
JSON encoded envelope. Frames larger than 16 MiB are rejected.

Closing the transport on purpose closes the connection with application
error code 5 (ApplicationShutdown).
*/
package quicstream
