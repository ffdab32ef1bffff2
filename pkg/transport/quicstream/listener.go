// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicstream

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/envelope"
	"github.com/quiver-network/quiver-go/pkg/transport/quicstream/internal"
)

// RequestHandler serves one request frame. Responses are written by reply
// onto the request's stream; reply may be called any number of times until
// RequestHandler returns.
type RequestHandler func(ctx context.Context, request []byte, reply func([]byte) error)

// Listener accepts QUIC connections and serves each stream a client opens.
// A stream is finished after its requests were all handled.
type Listener struct {
	listenAddress string
	tlsConfig     *tls.Config
	handler       RequestHandler

	listener *quic.Listener

	ctx    context.Context
	cancel context.CancelFunc
}

// NewListener for listenAddress. A nil tlsConfig creates a self-signed one.
func NewListener(listenAddress string, tlsConfig *tls.Config, handler RequestHandler) *Listener {
	ctx, cancel := context.WithCancel(context.Background())

	return &Listener{
		listenAddress: listenAddress,
		tlsConfig:     tlsConfig,
		handler:       handler,
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (listener *Listener) Start() error {
	if listener.tlsConfig == nil {
		tlsConfig, err := ListenerTLSConfig()
		if err != nil {
			return err
		}
		listener.tlsConfig = tlsConfig
	}

	log.WithField("address", listener.listenAddress).Info("Starting QUIC listener")

	lst, err := quic.ListenAddr(listener.listenAddress, listener.tlsConfig, QUICConfig())
	if err != nil {
		log.WithError(err).Error("Error creating QUIC listener")
		return err
	}

	listener.listener = lst
	go listener.handle()

	return nil
}

// Addr the Listener is bound to, once started.
func (listener *Listener) Addr() net.Addr {
	return listener.listener.Addr()
}

func (listener *Listener) Close() error {
	log.WithField("address", listener.listenAddress).Info("Shutting QUIC listener down")

	listener.cancel()
	if listener.listener == nil {
		return nil
	}
	return listener.listener.Close()
}

func (listener *Listener) handle() {
	for {
		connection, err := listener.listener.Accept(listener.ctx)
		if err != nil {
			if errors.Is(err, quic.ErrServerClosed) || errors.Is(err, context.Canceled) {
				log.WithField("address", listener.listenAddress).Debug("QUIC listener stopped accepting")
				return
			}

			log.WithFields(log.Fields{
				"address": listener.listenAddress,
				"error":   err,
			}).Error("Unknown error accepting QUIC connection")
			continue
		}

		log.WithFields(log.Fields{
			"address": listener.listenAddress,
			"peer":    connection.RemoteAddr(),
		}).Info("QUIC listener accepted new connection")

		go listener.handleConnection(connection)
	}
}

func (listener *Listener) handleConnection(connection quic.Connection) {
	go func() {
		<-listener.ctx.Done()
		_ = connection.CloseWithError(internal.ApplicationShutdown, "listener closing")
	}()

	for {
		stream, err := connection.AcceptStream(connection.Context())
		if err != nil {
			log.WithFields(log.Fields{
				"peer":  connection.RemoteAddr(),
				"error": err,
			}).Debug("Stopped accepting streams")
			return
		}

		go listener.handleStream(connection, stream)
	}
}

func (listener *Listener) handleStream(connection quic.Connection, stream quic.Stream) {
	logger := log.WithFields(log.Fields{
		"peer":   connection.RemoteAddr(),
		"stream": stream.StreamID(),
	})

	var writeMutex sync.Mutex
	reply := func(data []byte) error {
		writeMutex.Lock()
		defer writeMutex.Unlock()

		if err := envelope.WriteFrame(stream, data); err != nil {
			return internal.NewStreamError("writing response frame", internal.StreamTransmissionError, err)
		}
		return nil
	}

	var wg sync.WaitGroup
	reader := envelope.NewFrameReader(stream)

	for {
		frame, err := reader.Next()
		if err != nil {
			var protoErr *envelope.ProtocolError
			if errors.As(err, &protoErr) {
				logger.WithError(err).Warn("Dropping stream with malformed frame")
				stream.CancelRead(internal.MalformedFrameError)
			} else if !errors.Is(err, io.EOF) {
				logger.WithError(err).Debug("Reading stream errored")
			}
			break
		}

		wg.Add(1)
		go func(frame []byte) {
			defer wg.Done()
			listener.handler(connection.Context(), frame, reply)
		}(frame)
	}

	wg.Wait()
	_ = stream.Close()
}
