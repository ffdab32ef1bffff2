// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package peer implements a reference inference peer. It speaks the envelope
// protocol over all three transports: QUIC streams, WebSocket messages and
// WebRTC data channels, whose offers it answers on a signaling endpoint.
package peer

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/transport"
	"github.com/quiver-network/quiver-go/pkg/transport/quicstream"
)

// Config of a Server.
type Config struct {
	// HTTPAddress serves /ws, /signal and /healthz. Empty disables HTTP.
	HTTPAddress string

	// QUICAddress serves QUIC streams. Empty disables QUIC.
	QUICAddress string

	// TLSConfig for QUIC; a self-signed certificate if nil.
	TLSConfig *tls.Config

	// ICEServers and IncludeLoopback configure answering peer connections.
	ICEServers      []webrtc.ICEServer
	IncludeLoopback bool

	// ID announced to signaling clients.
	ID string

	// Handler answers requests; EchoHandler if nil.
	Handler Handler
}

// NetworkStats is the health report answering get_stats.
type NetworkStats struct {
	ID             string   `json:"id"`
	UptimeSeconds  float64  `json:"uptimeSeconds"`
	ActiveSessions int64    `json:"activeSessions"`
	Requests       uint64   `json:"requests"`
	Streams        uint64   `json:"streams"`
	Transports     []string `json:"transports"`
}

// Server is a reference peer.
type Server struct {
	config    Config
	startTime time.Time

	router   *mux.Router
	upgrader websocket.Upgrader

	httpServer   *http.Server
	httpListener net.Listener
	quicListener *quicstream.Listener

	activeSessions int64
	requests       uint64
	streams        uint64

	// connsMutex guards the connections outliving an HTTP handler.
	connsMutex sync.Mutex
	sockets    map[*websocket.Conn]struct{}
	peers      map[*webrtc.PeerConnection]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a Server; Start makes it listen.
func NewServer(config Config) *Server {
	if config.Handler == nil {
		config.Handler = EchoHandler{}
	}
	if config.ID == "" {
		config.ID = "quiver-peer"
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:    config,
		startTime: time.Now(),
		router:    mux.NewRouter(),
		sockets:   make(map[*websocket.Conn]struct{}),
		peers:     make(map[*webrtc.PeerConnection]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.upgrader.CheckOrigin = func(*http.Request) bool { return true }

	s.router.HandleFunc("/ws", s.handleSocket)
	s.router.HandleFunc("/signal", s.handleSignal)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	return s
}

// Router serves the HTTP endpoints, e.g., for an httptest.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start listening on the configured addresses.
func (s *Server) Start() error {
	if s.config.QUICAddress != "" {
		s.quicListener = quicstream.NewListener(s.config.QUICAddress, s.config.TLSConfig, s.handleQUIC)
		if err := s.quicListener.Start(); err != nil {
			return err
		}
	}

	if s.config.HTTPAddress != "" {
		listener, err := net.Listen("tcp", s.config.HTTPAddress)
		if err != nil {
			return err
		}
		s.httpListener = listener
		s.httpServer = &http.Server{Handler: s.router}

		go func() {
			if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("HTTP server errored")
			}
		}()

		log.WithField("address", listener.Addr()).Info("Started HTTP server")
	}

	return nil
}

// HTTPAddr the HTTP server is bound to, or nil.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// QUICAddr the QUIC listener is bound to, or nil.
func (s *Server) QUICAddr() net.Addr {
	if s.quicListener == nil {
		return nil
	}
	return s.quicListener.Addr()
}

// Stats of this Server.
func (s *Server) Stats() NetworkStats {
	transports := []string{string(transport.Socket), string(transport.PeerChannel)}
	if s.quicListener != nil {
		transports = append(transports, string(transport.QUIC))
	}

	return NetworkStats{
		ID:             s.config.ID,
		UptimeSeconds:  time.Since(s.startTime).Seconds(),
		ActiveSessions: atomic.LoadInt64(&s.activeSessions),
		Requests:       atomic.LoadUint64(&s.requests),
		Streams:        atomic.LoadUint64(&s.streams),
		Transports:     transports,
	}
}

// Close all listeners and connections.
func (s *Server) Close() error {
	s.cancel()

	var errs error
	if s.quicListener != nil {
		if err := s.quicListener.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	s.connsMutex.Lock()
	for conn := range s.sockets {
		_ = conn.Close()
	}
	for pc := range s.peers {
		if err := pc.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	s.connsMutex.Unlock()

	return errs
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		log.WithError(err).Debug("Failed to write health report")
	}
}

func (s *Server) handleQUIC(ctx context.Context, request []byte, reply func([]byte) error) {
	sess := &session{server: s, kind: transport.QUIC, send: reply}
	sess.handle(ctx, request)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading WebSocket connection failed")
		return
	}

	s.connsMutex.Lock()
	s.sockets[conn] = struct{}{}
	s.connsMutex.Unlock()

	atomic.AddInt64(&s.activeSessions, 1)
	defer func() {
		atomic.AddInt64(&s.activeSessions, -1)

		s.connsMutex.Lock()
		delete(s.sockets, conn)
		s.connsMutex.Unlock()

		_ = conn.Close()
	}()

	log.WithField("remote", conn.RemoteAddr()).Info("Accepted WebSocket session")

	var writeMutex sync.Mutex
	sess := &session{
		server: s,
		kind:   transport.Socket,
		send: func(data []byte) error {
			writeMutex.Lock()
			defer writeMutex.Unlock()

			return conn.WriteMessage(websocket.TextMessage, data)
		},
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.WithFields(log.Fields{
				"remote": conn.RemoteAddr(),
				"error":  err,
			}).Debug("WebSocket session ended")
			return
		}

		go sess.handle(s.ctx, data)
	}
}
