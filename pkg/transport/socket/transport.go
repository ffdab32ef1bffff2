// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package socket implements the socket-message transport: one persistent,
// ordered and full-duplex WebSocket connection carrying one envelope per
// text message.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/transport"
)

const writeTimeout = 10 * time.Second

// Transport is a WebSocket client transport.
type Transport struct {
	endpoint transport.Endpoint
	dialer   *websocket.Dialer

	// writeMutex serializes writers, as a websocket.Conn supports only one.
	writeMutex sync.Mutex
	conn       *websocket.Conn

	reporter *transport.Reporter

	stateMutex sync.Mutex
	localClose bool
	closeOnce  sync.Once
}

// New creates a Transport for a ws:// or wss:// URL.
func New(endpoint transport.Endpoint, dialer *websocket.Dialer) *Transport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Transport{
		endpoint: endpoint,
		dialer:   dialer,
		reporter: transport.NewReporter(64),
	}
}

// Dialer returns a transport.Dialer creating WebSocket Transports.
func Dialer(dialer *websocket.Dialer) transport.Dialer {
	return func(endpoint transport.Endpoint) (transport.Transport, error) {
		if u, err := url.Parse(endpoint.Address); err != nil {
			return nil, fmt.Errorf("%w: invalid WebSocket URL %q: %v", transport.ErrUnavailable, endpoint.Address, err)
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			return nil, fmt.Errorf("%w: unsupported scheme %q", transport.ErrUnavailable, u.Scheme)
		}
		return New(endpoint, dialer), nil
	}
}

func (t *Transport) String() string {
	return fmt.Sprintf("Socket{Address: %v}", t.endpoint.Address)
}

func (t *Transport) log() *log.Entry {
	return log.WithField("transport", t.String())
}

func (t *Transport) Open(ctx context.Context) error {
	t.log().Debug("Dialing WebSocket")

	conn, _, err := t.dialer.DialContext(ctx, t.endpoint.Address, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: dialing %s: %v", transport.ErrUnavailable, t.endpoint.Address, err)
	}

	t.stateMutex.Lock()
	if t.localClose {
		t.stateMutex.Unlock()
		_ = conn.Close()
		return transport.ErrClosed
	}
	t.conn = conn
	t.stateMutex.Unlock()

	go t.handleConn(conn)

	t.log().Info("WebSocket connection established")
	return nil
}

func (t *Transport) Send(data []byte) error {
	t.stateMutex.Lock()
	conn := t.conn
	t.stateMutex.Unlock()

	if conn == nil || t.reporter.IsClosed() {
		return transport.ErrClosed
	}

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing WebSocket message: %w", err)
	}
	return nil
}

func (t *Transport) Channel() chan transport.Status {
	return t.reporter.Channel()
}

func (t *Transport) Close() error {
	var err error

	t.closeOnce.Do(func() {
		t.stateMutex.Lock()
		t.localClose = true
		conn := t.conn
		t.stateMutex.Unlock()

		if conn == nil {
			t.reporter.Closed(t, nil)
			return
		}

		t.writeMutex.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second))
		t.writeMutex.Unlock()

		// handleConn reports the closing after its reader failed.
		err = conn.Close()
	})

	return err
}

func (t *Transport) Endpoint() transport.Endpoint {
	return t.endpoint
}

// handleConn reads messages until the connection ends.
func (t *Transport) handleConn(conn *websocket.Conn) {
	var reason error

	defer func() {
		t.stateMutex.Lock()
		local := t.localClose
		t.stateMutex.Unlock()

		if local {
			reason = nil
		}
		t.reporter.Closed(t, reason)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var netErr *net.OpError
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				t.log().WithError(err).Info("Peer closed the WebSocket")
			case errors.As(err, &netErr) && errors.Is(netErr.Err, net.ErrClosed):
				t.log().WithError(err).Debug("Reader errored due to closed network connection")
			default:
				t.log().WithError(err).Warn("Reading WebSocket message errored")
			}

			reason = err
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if !t.reporter.Message(t, data) {
			return
		}
	}
}
