// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package signaling

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Peer is the part of a *webrtc.PeerConnection the Handshake drives.
type Peer interface {
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
}

// Handshake tracks one offer/answer exchange. Remote candidates can arrive
// at any time; they are buffered until both the local offer and the remote
// answer are in place and then applied in their arrival order.
type Handshake struct {
	mutex sync.Mutex
	peer  Peer

	localOffer   string
	remoteAnswer string
	pending      []webrtc.ICECandidateInit
}

// NewHandshake creates the state for negotiating with peer.
func NewHandshake(peer Peer) *Handshake {
	return &Handshake{peer: peer}
}

// SetLocalOffer records the offer that was set as local description.
func (h *Handshake) SetLocalOffer(sdp string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.localOffer != "" {
		return fmt.Errorf("local offer is already set")
	}
	h.localOffer = sdp

	return h.flush()
}

// ApplyAnswer validates the remote answer and applies it to the Peer.
// Buffered candidates are applied afterwards.
func (h *Handshake) ApplyAnswer(sdp string) error {
	if err := ValidateDescription(sdp); err != nil {
		return err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.remoteAnswer != "" {
		return fmt.Errorf("remote answer is already applied")
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := h.peer.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: applying answer: %v", ErrMalformedDescriptor, err)
	}
	h.remoteAnswer = sdp

	return h.flush()
}

// AddRemoteCandidate applies candidate or buffers it for later.
func (h *Handshake) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.pending = append(h.pending, candidate)
	return h.flush()
}

// Answered tells if the remote answer was applied.
func (h *Handshake) Answered() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.remoteAnswer != ""
}

// Pending returns a copy of the candidates still waiting to be applied.
func (h *Handshake) Pending() []webrtc.ICECandidateInit {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	pending := make([]webrtc.ICECandidateInit, len(h.pending))
	copy(pending, h.pending)
	return pending
}

// flush applies buffered candidates in order. The mutex must be held.
func (h *Handshake) flush() error {
	if h.localOffer == "" || h.remoteAnswer == "" {
		return nil
	}

	for len(h.pending) > 0 {
		candidate := h.pending[0]
		h.pending = h.pending[1:]

		if err := h.peer.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("adding ICE candidate %q: %w", candidate.Candidate, err)
		}
	}
	return nil
}
