// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/envelope"
)

// DefaultAnswerTimeout bounds the wait for the remote answer.
const DefaultAnswerTimeout = 10 * time.Second

// Sender transmits Messages towards the remote peer.
type Sender interface {
	Send(Message) error
}

// Session runs one offer/answer exchange on top of a control channel.
// Local candidates gathered before the offer went out are held back so the
// remote side always receives the offer first.
type Session struct {
	sender    Sender
	handshake *Handshake

	clock         clock.Clock
	answerTimeout time.Duration

	mutex       sync.Mutex
	offerSent   bool
	localQueued []webrtc.ICECandidateInit
}

// NewSession for a Peer, sending over sender. A nil clock means wall time.
func NewSession(sender Sender, peer Peer, clk clock.Clock, answerTimeout time.Duration) *Session {
	if clk == nil {
		clk = clock.New()
	}
	if answerTimeout <= 0 {
		answerTimeout = DefaultAnswerTimeout
	}

	return &Session{
		sender:        sender,
		handshake:     NewHandshake(peer),
		clock:         clk,
		answerTimeout: answerTimeout,
	}
}

// Handshake state of this Session.
func (s *Session) Handshake() *Handshake {
	return s.handshake
}

// SendOffer transmits the local offer, followed by all local candidates
// gathered so far.
func (s *Session) SendOffer(offer webrtc.SessionDescription) error {
	if err := s.handshake.SetLocalOffer(offer.SDP); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.sender.Send(Message{Type: envelope.Offer, SDP: offer.SDP}); err != nil {
		return err
	}
	s.offerSent = true

	for _, candidate := range s.localQueued {
		c := candidate
		if err := s.sender.Send(Message{Type: envelope.ICECandidate, Candidate: &c}); err != nil {
			return err
		}
	}
	s.localQueued = nil

	return nil
}

// SendCandidate transmits a local candidate or queues it until the offer
// was sent.
func (s *Session) SendCandidate(candidate webrtc.ICECandidateInit) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.offerSent {
		s.localQueued = append(s.localQueued, candidate)
		return nil
	}
	return s.sender.Send(Message{Type: envelope.ICECandidate, Candidate: &candidate})
}

// Run consumes Messages from the control channel until ctx is done.
// answered is closed as soon as the remote answer was applied. An error is
// returned if no answer arrives within the answer timeout, or the exchange
// fails before the answer.
func (s *Session) Run(ctx context.Context, ch *Channel, answered chan<- struct{}) error {
	return s.run(ctx, ch.inbound, answered)
}

func (s *Session) run(ctx context.Context, in <-chan inbound, answered chan<- struct{}) error {
	timer := s.clock.Timer(s.answerTimeout)
	defer timer.Stop()

	isAnswered := false

	for {
		var timeout <-chan time.Time
		if !isAnswered {
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			return nil

		case <-timeout:
			return ErrAnswerTimeout

		case item, ok := <-in:
			if !ok {
				if isAnswered {
					return nil
				}
				return ErrChannelClosed
			}

			if item.err != nil {
				if errors.Is(item.err, ErrMalformedDescriptor) && !isAnswered {
					return item.err
				} else if errors.Is(item.err, ErrChannelClosed) {
					if isAnswered {
						return nil
					}
					return item.err
				}
				continue
			}

			done, err := s.handle(item.msg)
			if err != nil && !isAnswered {
				return err
			} else if err != nil {
				log.WithError(err).Debug("Ignoring signaling failure after answer")
			}

			if done && !isAnswered {
				isAnswered = true
				close(answered)
			}
		}
	}
}

func (s *Session) handle(msg Message) (answered bool, err error) {
	switch msg.Type {
	case envelope.Answer:
		err = s.handshake.ApplyAnswer(msg.SDP)
		answered = err == nil

	case envelope.ICECandidate:
		err = s.handshake.AddRemoteCandidate(*msg.Candidate)

	case envelope.Error:
		err = fmt.Errorf("%w: %s", ErrRejected, msg.Error)

	case envelope.ProvidersList, envelope.ProviderAvailable:
		log.WithFields(log.Fields{
			"type":     msg.Type,
			"provider": msg.ProviderID,
		}).Debug("Received provider notice")

	default:
		log.WithField("type", msg.Type).Debug("Ignoring unexpected signaling message")
	}
	return
}
