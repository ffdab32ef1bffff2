// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/envelope"
	"github.com/quiver-network/quiver-go/pkg/signaling"
	"github.com/quiver-network/quiver-go/pkg/transport"
)

// signalSession answers one client's offer on a signaling connection.
type signalSession struct {
	server *Server
	conn   *websocket.Conn

	writeMutex sync.Mutex

	mutex     sync.Mutex
	pc        *webrtc.PeerConnection
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading signaling connection failed")
		return
	}
	defer conn.Close()

	sig := &signalSession{server: s, conn: conn}
	sig.serve()
}

func (sig *signalSession) log() *log.Entry {
	return log.WithField("signaling", sig.conn.RemoteAddr())
}

func (sig *signalSession) send(msg signaling.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		sig.log().WithError(err).Warn("Failed to encode signaling message")
		return
	}

	sig.writeMutex.Lock()
	defer sig.writeMutex.Unlock()

	if err := sig.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		sig.log().WithError(err).Debug("Failed to send signaling message")
	}
}

func (sig *signalSession) fail(reason string) {
	sig.send(signaling.Message{Type: envelope.Error, Error: reason})
}

func (sig *signalSession) serve() {
	for {
		_, data, err := sig.conn.ReadMessage()
		if err != nil {
			sig.log().WithError(err).Debug("Signaling connection ended")
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			sig.fail("undecodable signaling message")
			continue
		}

		switch msg.Type {
		case envelope.ClientJoin:
			sig.log().WithField("userAgent", msg.UserAgent).Debug("Client joined")

			providers, _ := json.Marshal([]map[string]interface{}{{
				"id":         sig.server.config.ID,
				"transports": sig.server.Stats().Transports,
			}})
			sig.send(signaling.Message{Type: envelope.ProvidersList, Payload: providers})

		case envelope.Offer:
			if err := signaling.ValidateDescription(msg.SDP); err != nil {
				sig.fail(err.Error())
				continue
			}
			if err := sig.answer(msg.SDP); err != nil {
				sig.log().WithError(err).Warn("Answering offer failed")
				sig.fail(err.Error())
			}

		case envelope.ICECandidate:
			if msg.Candidate == nil {
				sig.fail("ice_candidate without candidate")
				continue
			}
			sig.addCandidate(*msg.Candidate)

		default:
			sig.fail("unsupported signaling message " + string(msg.Type))
		}
	}
}

func (sig *signalSession) addCandidate(candidate webrtc.ICECandidateInit) {
	sig.mutex.Lock()
	defer sig.mutex.Unlock()

	if !sig.remoteSet {
		sig.pending = append(sig.pending, candidate)
		return
	}

	if err := sig.pc.AddICECandidate(candidate); err != nil {
		sig.log().WithError(err).Debug("Adding remote ICE candidate failed")
	}
}

func (sig *signalSession) answer(offer string) error {
	sig.mutex.Lock()
	defer sig.mutex.Unlock()

	if sig.pc != nil {
		return errOfferTwice
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(sig.server.config.IncludeLoopback)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: sig.server.config.ICEServers})
	if err != nil {
		return err
	}
	sig.pc = pc
	sig.server.trackPeer(pc, true)

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		sig.send(signaling.Message{Type: envelope.ICECandidate, Candidate: &init})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			sig.server.trackPeer(pc, false)
			_ = pc.Close()
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		sig.server.serveDataChannel(pc, dc)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}

	sig.send(signaling.Message{Type: envelope.Answer, SDP: answer.SDP})

	sig.remoteSet = true
	for _, candidate := range sig.pending {
		if err := pc.AddICECandidate(candidate); err != nil {
			sig.log().WithError(err).Debug("Adding buffered ICE candidate failed")
		}
	}
	sig.pending = nil

	return nil
}

func (s *Server) trackPeer(pc *webrtc.PeerConnection, add bool) {
	s.connsMutex.Lock()
	defer s.connsMutex.Unlock()

	if add {
		s.peers[pc] = struct{}{}
	} else {
		delete(s.peers, pc)
	}
}

func (s *Server) serveDataChannel(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) {
	sess := &session{
		server: s,
		kind:   transport.PeerChannel,
		send: func(data []byte) error {
			return dc.SendText(string(data))
		},
	}

	var opened int32
	dc.OnOpen(func() {
		atomic.StoreInt32(&opened, 1)
		atomic.AddInt64(&s.activeSessions, 1)
		log.WithField("label", dc.Label()).Info("Data channel session opened")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		go sess.handle(s.ctx, msg.Data)
	})
	dc.OnClose(func() {
		if atomic.CompareAndSwapInt32(&opened, 1, 0) {
			atomic.AddInt64(&s.activeSessions, -1)
		}
		log.WithField("label", dc.Label()).Info("Data channel session closed")

		s.trackPeer(pc, false)
		_ = pc.Close()
	})
}

var errOfferTwice = errors.New("offer was already answered")
