// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package peerchan implements the peer-channel transport: an ordered and
// reliable WebRTC data channel, negotiated over a signaling control channel.
//
// The control channel is only needed until the data channel opens. The
// Endpoint's Address is the preferred signaling URL; Config.SignalingURLs are
// tried afterwards, in order.
package peerchan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/signaling"
	"github.com/quiver-network/quiver-go/pkg/transport"
)

// Label of the data channel.
const Label = "quiver"

// Config for peer-channel Transports.
type Config struct {
	// SignalingURLs are fallbacks after the Endpoint's Address.
	SignalingURLs []string

	// ICEServers for candidate gathering. Empty means host candidates only.
	ICEServers []webrtc.ICEServer

	// IncludeLoopback adds loopback candidates, needed on a single host.
	IncludeLoopback bool

	// AnswerTimeout bounds the wait for the remote answer.
	AnswerTimeout time.Duration

	Clock    clock.Clock
	WSDialer *websocket.Dialer
}

// NewAPI creates a pion API from this Config's settings.
func (c Config) NewAPI() *webrtc.API {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(c.IncludeLoopback)

	return webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
}

// Transport is a WebRTC data channel client transport.
type Transport struct {
	endpoint transport.Endpoint
	config   Config

	peerConnection *webrtc.PeerConnection
	dataChannel    *webrtc.DataChannel

	reporter *transport.Reporter

	stateMutex sync.Mutex
	opened     bool
	localClose bool
	closeOnce  sync.Once
}

// New creates a Transport for an Endpoint.
func New(endpoint transport.Endpoint, config Config) *Transport {
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Transport{
		endpoint: endpoint,
		config:   config,
		reporter: transport.NewReporter(64),
	}
}

// Dialer returns a transport.Dialer creating peer-channel Transports.
func Dialer(config Config) transport.Dialer {
	return func(endpoint transport.Endpoint) (transport.Transport, error) {
		if endpoint.Address == "" && len(config.SignalingURLs) == 0 {
			return nil, fmt.Errorf("%w: no signaling URL for %v", transport.ErrUnavailable, endpoint)
		}
		return New(endpoint, config), nil
	}
}

func (t *Transport) String() string {
	return fmt.Sprintf("PeerChannel{Signaling: %v}", t.endpoint.Address)
}

func (t *Transport) log() *log.Entry {
	return log.WithField("transport", t.String())
}

func (t *Transport) signalingURLs() (urls []string) {
	if t.endpoint.Address != "" {
		urls = append(urls, t.endpoint.Address)
	}
	for _, url := range t.config.SignalingURLs {
		if url != t.endpoint.Address {
			urls = append(urls, url)
		}
	}
	return
}

// Open negotiates the data channel and returns once it is open.
func (t *Transport) Open(ctx context.Context) (err error) {
	pc, err := t.config.NewAPI().NewPeerConnection(webrtc.Configuration{ICEServers: t.config.ICEServers})
	if err != nil {
		return fmt.Errorf("%w: creating peer connection: %v", transport.ErrUnavailable, err)
	}
	t.peerConnection = pc

	defer func() {
		if err != nil {
			t.stateMutex.Lock()
			t.localClose = true
			t.stateMutex.Unlock()

			_ = pc.Close()
		}
	}()

	ordered := true
	dc, err := pc.CreateDataChannel(Label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("creating data channel: %w", err)
	}
	t.dataChannel = dc

	openChan := make(chan struct{})
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(openChan) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.reporter.Message(t, msg.Data)
	})
	dc.OnClose(func() {
		t.reportClosed(errors.New("data channel closed"))
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.log().WithField("state", state).Debug("Peer connection state changed")

		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			t.reportClosed(fmt.Errorf("peer connection %s", state))
		}
	})

	ch, err := signaling.Dial(ctx, t.signalingURLs(), t.config.WSDialer)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}
	defer ch.Close()

	session := signaling.NewSession(ch, pc, t.config.Clock, t.config.AnswerTimeout)

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := session.SendCandidate(candidate.ToJSON()); err != nil {
			t.log().WithError(err).Debug("Failed to send local ICE candidate")
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err = pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	answered := make(chan struct{})
	errChan := make(chan error, 1)
	go func() { errChan <- session.Run(runCtx, ch, answered) }()

	if err = session.SendOffer(offer); err != nil {
		return fmt.Errorf("sending offer: %w", err)
	}

	for {
		select {
		case <-openChan:
			t.stateMutex.Lock()
			t.opened = true
			t.stateMutex.Unlock()

			t.log().WithField("signaling", ch.URL()).Info("Data channel is open")
			return nil

		case runErr := <-errChan:
			if runErr != nil {
				return runErr
			}
			// The control channel ended after the answer; keep waiting for ICE.
			errChan = nil

		case <-answered:
			t.log().Debug("Received answer, waiting for the data channel")
			answered = nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Transport) reportClosed(reason error) {
	t.stateMutex.Lock()
	if t.localClose {
		reason = nil
	}
	t.stateMutex.Unlock()

	if t.reporter.Closed(t, reason) && reason != nil {
		t.log().WithError(reason).Info("Data channel was lost")
	}
}

func (t *Transport) Send(data []byte) error {
	t.stateMutex.Lock()
	ready := t.opened && !t.localClose
	t.stateMutex.Unlock()

	if !ready || t.reporter.IsClosed() {
		return transport.ErrClosed
	}

	if err := t.dataChannel.SendText(string(data)); err != nil {
		return fmt.Errorf("sending on data channel: %w", err)
	}
	return nil
}

func (t *Transport) Channel() chan transport.Status {
	return t.reporter.Channel()
}

func (t *Transport) Close() (err error) {
	t.closeOnce.Do(func() {
		t.stateMutex.Lock()
		t.localClose = true
		t.stateMutex.Unlock()

		if t.peerConnection != nil {
			err = t.peerConnection.Close()
		}
		t.reporter.Closed(t, nil)
	})
	return
}

func (t *Transport) Endpoint() transport.Endpoint {
	return t.endpoint
}
