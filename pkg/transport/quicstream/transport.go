// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/envelope"
	"github.com/quiver-network/quiver-go/pkg/transport"
	"github.com/quiver-network/quiver-go/pkg/transport/quicstream/internal"
)

// openStreamTimeout bounds waiting for the peer to grant another stream.
const openStreamTimeout = 5 * time.Second

// Transport sends every envelope on a fresh bidirectional QUIC stream and
// reads the peer's answers from that same stream.
type Transport struct {
	endpoint   transport.Endpoint
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	mutex      sync.Mutex
	connection quic.Connection

	reporter *transport.Reporter

	localClose bool
	closeOnce  sync.Once
}

// New creates a Transport for a QUIC endpoint, e.g., "gateway.example:4433".
func New(endpoint transport.Endpoint, tlsConfig *tls.Config) *Transport {
	if tlsConfig == nil {
		tlsConfig = DialerTLSConfig(false)
	}

	return &Transport{
		endpoint:   endpoint,
		tlsConfig:  tlsConfig,
		quicConfig: QUICConfig(),
		reporter:   transport.NewReporter(64),
	}
}

// Dialer returns a transport.Dialer creating QUIC Transports.
func Dialer(tlsConfig *tls.Config) transport.Dialer {
	return func(endpoint transport.Endpoint) (transport.Transport, error) {
		if _, _, err := net.SplitHostPort(endpoint.Address); err != nil {
			return nil, fmt.Errorf("%w: invalid QUIC address %q: %v", transport.ErrUnavailable, endpoint.Address, err)
		}
		return New(endpoint, tlsConfig), nil
	}
}

func (t *Transport) String() string {
	return fmt.Sprintf("QUICStream{Address: %v}", t.endpoint.Address)
}

func (t *Transport) log() *log.Entry {
	return log.WithField("transport", t.String())
}

func (t *Transport) conn() quic.Connection {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.connection
}

/**
Methods for the transport.Transport interface
*/

func (t *Transport) Open(ctx context.Context) error {
	if t.conn() != nil {
		return fmt.Errorf("%v was already opened", t)
	}

	t.log().Debug("Dialing QUIC connection")

	connection, err := quic.DialAddr(ctx, t.endpoint.Address, t.tlsConfig, t.quicConfig)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: dialing %s: %v", transport.ErrUnavailable, t.endpoint.Address, err)
	}

	t.mutex.Lock()
	if t.localClose {
		t.mutex.Unlock()
		_ = connection.CloseWithError(internal.ApplicationShutdown, "client closing")
		return transport.ErrClosed
	}
	t.connection = connection
	t.mutex.Unlock()

	go t.handleConnection(connection)
	go t.watchConnection(connection)

	t.log().Info("QUIC connection established")
	return nil
}

func (t *Transport) Send(data []byte) error {
	connection := t.conn()
	if connection == nil || t.reporter.IsClosed() {
		return transport.ErrClosed
	}

	ctx, cancel := context.WithTimeout(connection.Context(), openStreamTimeout)
	defer cancel()

	stream, err := connection.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}

	if err := envelope.WriteFrame(stream, data); err != nil {
		stream.CancelWrite(internal.StreamTransmissionError)
		stream.CancelRead(internal.StreamTransmissionError)
		return internal.NewStreamError("writing request frame", internal.StreamTransmissionError, err)
	}

	// Closing only ends our sending direction; the answer is read below.
	_ = stream.Close()

	go t.handleStream(stream)
	return nil
}

func (t *Transport) Channel() chan transport.Status {
	return t.reporter.Channel()
}

func (t *Transport) Close() error {
	var err error

	t.closeOnce.Do(func() {
		t.mutex.Lock()
		t.localClose = true
		connection := t.connection
		t.mutex.Unlock()

		t.log().Debug("Closing QUIC transport")

		if connection == nil {
			t.reporter.Closed(t, nil)
			return
		}
		err = connection.CloseWithError(internal.ApplicationShutdown, "client closing")
	})

	return err
}

func (t *Transport) Endpoint() transport.Endpoint {
	return t.endpoint
}

/**
Non-interface methods
*/

// watchConnection reports the end of the QUIC connection.
func (t *Transport) watchConnection(connection quic.Connection) {
	<-connection.Context().Done()

	t.mutex.Lock()
	local := t.localClose
	t.mutex.Unlock()

	var reason error
	if !local {
		reason = context.Cause(connection.Context())
		if reason == nil {
			reason = io.ErrUnexpectedEOF
		}

		var appErr *quic.ApplicationError
		var idleErr *quic.IdleTimeoutError
		switch {
		case errors.As(reason, &appErr):
			t.log().WithFields(log.Fields{
				"remote":     appErr.Remote,
				"error code": appErr.ErrorCode,
				"error msg":  appErr.ErrorMessage,
			}).Info("Connection to peer closed")

		case errors.As(reason, &idleErr):
			t.log().Info("Peer timed out")

		default:
			t.log().WithError(reason).Warn("QUIC connection ended unexpectedly")
		}
	}

	t.reporter.Closed(t, reason)
}

// handleConnection reads streams the peer opens on its own.
func (t *Transport) handleConnection(connection quic.Connection) {
	for {
		stream, err := connection.AcceptStream(context.Background())
		if err != nil {
			t.log().WithError(err).Debug("Stopped accepting streams")
			return
		}

		go t.handleStream(stream)
	}
}

// handleStream reports every frame of a stream until the peer finishes it.
func (t *Transport) handleStream(stream quic.Stream) {
	logger := t.log().WithField("stream", stream.StreamID())
	reader := envelope.NewFrameReader(stream)

	for {
		frame, err := reader.Next()
		if err != nil {
			var protoErr *envelope.ProtocolError
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("Finished handling stream")

			case errors.As(err, &protoErr):
				logger.WithError(err).Warn("Dropping stream with malformed frame")
				stream.CancelRead(internal.MalformedFrameError)

			default:
				logger.WithError(err).Debug("Reading stream errored")
				stream.CancelRead(internal.StreamTransmissionError)
			}
			return
		}

		if !t.reporter.Message(t, frame) {
			stream.CancelRead(internal.StreamTransmissionError)
			return
		}
	}
}
